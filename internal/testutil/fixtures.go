// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// DVT is the namespace used throughout the fixtures.
const DVT = "https://graph.bmwgroup.net/Ontology/DigitalVehicleTwinOntology-1.0/"

// VehicleTurtle declares two vehicles; only vehicle1 has a faulty component.
// It holds 25 distinct triples.
const VehicleTurtle = `@prefix dvt: <https://graph.bmwgroup.net/Ontology/DigitalVehicleTwinOntology-1.0/> .
@prefix rdf: <http://www.w3.org/1999/02/22-rdf-syntax-ns#> .
@prefix rdfs: <http://www.w3.org/2000/01/rdf-schema#> .
@prefix owl: <http://www.w3.org/2002/07/owl#> .

dvt:Vehicle a owl:Class ;
    rdfs:label "Vehicle"@en ;
    rdfs:comment "A road vehicle tracked by its digital twin." .

dvt:Component a owl:Class ;
    rdfs:label "Component"@en .

dvt:hasComponent a owl:ObjectProperty ;
    rdfs:domain dvt:Vehicle ;
    rdfs:range dvt:Component .

dvt:status a owl:DatatypeProperty .
dvt:mileage a owl:DatatypeProperty .

dvt:vehicle1 a dvt:Vehicle ;
    rdfs:label "Test Vehicle 1" ;
    dvt:hasComponent dvt:brake1, dvt:wiper1 ;
    dvt:mileage 42000 .

dvt:vehicle2 a dvt:Vehicle ;
    rdfs:label "Test Vehicle 2" ;
    dvt:hasComponent dvt:wiper2 ;
    dvt:mileage 1200 .

dvt:brake1 a dvt:Component ;
    dvt:status "faulty" .

dvt:wiper1 a dvt:Component ;
    dvt:status "ok" .

dvt:wiper2 a dvt:Component ;
    dvt:status "ok" .
`

// VehicleTriples is the number of distinct triples in VehicleTurtle.
const VehicleTriples = 25

// FaultyVehicleQuery selects vehicles with at least one faulty component.
const FaultyVehicleQuery = `SELECT ?vehicle WHERE {
  ?vehicle a dvt:Vehicle ;
           dvt:hasComponent ?c .
  ?c dvt:status "faulty" .
}`

// VehicleRDFXML is a small RDF/XML document with one typed vehicle.
const VehicleRDFXML = `<?xml version="1.0"?>
<rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#"
         xmlns:rdfs="http://www.w3.org/2000/01/rdf-schema#"
         xmlns:dvt="https://graph.bmwgroup.net/Ontology/DigitalVehicleTwinOntology-1.0/">
  <dvt:Vehicle rdf:about="https://graph.bmwgroup.net/Ontology/DigitalVehicleTwinOntology-1.0/vehicle9">
    <rdfs:label>Test Vehicle 9</rdfs:label>
  </dvt:Vehicle>
</rdf:RDF>
`

// WriteFile writes content to name under a fresh temp dir and returns the path.
func WriteFile(t testing.TB, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture %s: %v", name, err)
	}
	return path
}
