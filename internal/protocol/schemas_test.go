package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	compile := func(name string) *jsonschema.Schema {
		t.Helper()
		p := filepath.Join("..", "..", "schemas", name)
		s, err := jsonschema.Compile(p)
		if err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
		return s
	}

	validate := func(s *jsonschema.Schema, v any) {
		t.Helper()
		if err := s.Validate(v); err != nil {
			t.Fatalf("validate: %v", err)
		}
	}

	helloSchema := compile("hello.schema.json")
	welcomeSchema := compile("welcome.schema.json")
	obsSchema := compile("obs.schema.json")
	actSchema := compile("act.schema.json")

	var hello any
	_ = json.Unmarshal([]byte(`{
	  "type":"HELLO",
	  "protocol_version":"1.0",
	  "operator_name":"dispatch1",
	  "max_queue":8
	}`), &hello)
	validate(helloSchema, hello)

	var welcome any
	_ = json.Unmarshal([]byte(`{
	  "type":"WELCOME",
	  "protocol_version":"1.0",
	  "operator_id":"O1",
	  "resume_token":"resume_main_123",
	  "world_params":{
	    "world_id":"main",
	    "tick_rate_hz":10,
	    "day_ticks":74,
	    "seed":1337,
	    "station_storage_cap":4096
	  },
	  "catalogs":{
	    "cargo_palette":{"digest":"deadbeef","count":6},
	    "vehicle_palette":{"digest":"deadbeef","count":4},
	    "industries_digest":"deadbeef"
	  }
	}`), &welcome)
	validate(welcomeSchema, welcome)

	var obs any
	_ = json.Unmarshal([]byte(`{
	  "type":"OBS",
	  "protocol_version":"1.0",
	  "tick":42,
	  "operator_id":"O1",
	  "world":{"day":0,"day_tick":42,"stations":2,"vehicles":1,"industries":1,"live_packets":7},
	  "stations":[{"id":1,"name":"Norwood Mills","tile":100,"cargo":[
	    {"cargo":"COAL","available":120,"reserved":0,"avg_days":3,"accepted":false}
	  ]}],
	  "vehicles":[{"id":1,"vehicle_type":"FREIGHT_TRAIN","state":"EN_ROUTE",
	    "at_station":65535,"dest_station":2,"order_index":0,
	    "cargo":{"cargo":"COAL","stored":80,"reserved":0,"avg_days":2,"feeder_share":0}}],
	  "ledger":{"balance":1200,"delivered_units":40,"delivered_income":1300,
	    "transfer_credits":100,"truncated_units":0},
	  "events":[],
	  "events_cursor":0
	}`), &obs)
	validate(obsSchema, obs)

	var act any
	_ = json.Unmarshal([]byte(`{
	  "type":"ACT",
	  "protocol_version":"1.0",
	  "tick":42,
	  "operator_id":"O1",
	  "commands":[
	    {"id":"C1","type":"CREATE_STATION","name":"Norwood Mills","tile":100},
	    {"id":"C2","type":"SET_ORDERS","vehicle_id":1,"orders":[
	      {"station":1,"flags":["FULL_LOAD"]},
	      {"station":2,"flags":["UNLOAD","TRANSFER"]}
	    ]}
	  ]
	}`), &act)
	validate(actSchema, act)
}
