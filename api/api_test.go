package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/matryer/is"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robertof/gravmon-gateway/device"
	"github.com/robertof/gravmon-gateway/push"
	"github.com/robertof/gravmon-gateway/registry"
)

type fakeSink struct {
	name     string
	t        push.Template
	payloads []string
}

func (s *fakeSink) Name() string            { return s.name }
func (s *fakeSink) Template() push.Template { return s.t }

func (s *fakeSink) Send(ctx context.Context, payload string) push.Result {
	s.payloads = append(s.payloads, payload)
	return push.Result{Code: http.StatusOK, Success: true}
}

type testEnv struct {
	deps Deps
	sink *fakeSink
	srv  *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	tilts := registry.NewTableWithClock[device.TiltReading]("tilt", 8, clock)
	sensors := registry.NewTableWithClock[device.SensorReading]("gravitymon", 8, clock)
	remote := registry.NewTableWithClock[device.SensorReading]("http", 8, clock)

	opts := push.Options{GatewayID: "gw1", Name: "gravmon-gw", TempUnit: push.TempUnitC, GravityUnit: push.GravityUnitSG}
	formatter := push.NewFormatter(opts, push.NewStore(t.TempDir(), nil))

	sink := &fakeSink{name: "http-post", t: push.TemplateHttpPost}
	ctrl := push.NewController(formatter, []push.Sink{sink}, sensors, remote, tilts)

	deps := Deps{
		Settings: Settings{
			ID:          "gw1",
			Name:        "gravmon-gw",
			TempUnit:    push.TempUnitC,
			GravityUnit: push.GravityUnitSG,
			ResendTime:  5 * time.Minute,
		},
		Tilts:      tilts,
		Sensors:    sensors,
		Remote:     remote,
		Controller: ctrl,
		Gatherer:   prometheus.NewRegistry(),
	}

	srv := httptest.NewServer(NewRouter(deps))
	t.Cleanup(srv.Close)

	return &testEnv{deps: deps, sink: sink, srv: srv}
}

func (e *testEnv) post(t *testing.T, path, body string) *http.Response {
	t.Helper()

	res, err := http.Post(e.srv.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s failed: %v", path, err)
	}

	t.Cleanup(func() { res.Body.Close() })

	return res
}

const remoteBody = `{"name":"ferm1","ID":"c0ffee","token":"tok","interval":900,"temperature":68,` +
	`"temp_units":"F","gravity":1.05,"angle":40.5,"battery":3.9,"RSSI":-70}`

func TestRemotePost(t *testing.T) {
	is := is.New(t)
	env := newTestEnv(t)

	res := env.post(t, "/post", remoteBody)
	is.Equal(res.StatusCode, http.StatusOK)

	entries := env.deps.Remote.Occupied()
	is.Equal(len(entries), 1)
	is.Equal(entries[0].ID, "c0ffee")
	is.True(entries[0].Updated)
	is.Equal(entries[0].Reading.Source, device.SourceHttp)
	is.Equal(entries[0].Reading.TempC, 20.0)

	res = env.post(t, "/post", `{"gravity":1.05}`)
	is.Equal(res.StatusCode, http.StatusUnprocessableEntity)

	res = env.post(t, "/post", `not json`)
	is.Equal(res.StatusCode, http.StatusUnprocessableEntity)

	// iSpindel firmware posts a numeric ID, some builds a float RSSI
	res = env.post(t, "/post", `{"name":"ispindel","ID":1234567,"temperature":18.5,"temp_units":"C","gravity":1.04,"RSSI":-79.0}`)
	is.Equal(res.StatusCode, http.StatusOK)

	entries = env.deps.Remote.Occupied()
	is.Equal(len(entries), 2)
	is.Equal(entries[1].ID, "1234567")
	is.Equal(entries[1].Reading.RSSI, -79)
	is.Equal(entries[1].Reading.TempC, 18.5)
}

func TestRemotePostTableFull(t *testing.T) {
	is := is.New(t)
	env := newTestEnv(t)

	for i := 0; i < env.deps.Remote.Capacity(); i++ {
		_, err := env.deps.Remote.Put(string(rune('a'+i)), device.SensorReading{})
		is.NoErr(err)
	}

	res := env.post(t, "/post", remoteBody)
	is.Equal(res.StatusCode, http.StatusUnprocessableEntity)
}

func TestStatus(t *testing.T) {
	is := is.New(t)
	env := newTestEnv(t)

	_, err := env.deps.Sensors.Put("fa41", device.SensorReading{ChipID: "fa41", GravitySG: 1.02, TempC: 20})
	is.NoErr(err)
	_, err = env.deps.Tilts.Put("Red", device.TiltReading{Color: device.ColorRed, GravitySG: 1.05, TempF: 68})
	is.NoErr(err)

	env.post(t, "/post", remoteBody)

	res, err := http.Get(env.srv.URL + "/api/status")
	is.NoErr(err)
	defer res.Body.Close()

	is.Equal(res.StatusCode, http.StatusOK)

	var status statusResponse
	is.NoErr(json.NewDecoder(res.Body).Decode(&status))

	is.Equal(status.ID, "gw1")
	is.Equal(status.Mdns, "gravmon-gw")
	is.Equal(status.ResendTime, 300)
	is.Equal(len(status.Devices), 3)
	is.Equal(status.Devices[0].Endpoint, EndpointBLE)
	is.Equal(status.Devices[1].Endpoint, EndpointWifi)
	is.Equal(status.Devices[2].Endpoint, EndpointTilt)
	is.Equal(status.Devices[2].ID, "Red")
	is.Equal(status.Devices[2].Temp, 20.0)
	is.Equal(status.Devices[0].UpdateAge, 0)
	is.Equal(len(status.PushHistory), 0)
}

func TestFormats(t *testing.T) {
	is := is.New(t)
	env := newTestEnv(t)

	res := env.post(t, "/api/format", `{"mqtt":"gravmon/${id}/gravity:${gravity}|"}`)
	is.Equal(res.StatusCode, http.StatusOK)

	get, err := http.Get(env.srv.URL + "/api/format")
	is.NoErr(err)
	defer get.Body.Close()

	var formats map[string]string
	is.NoErr(json.NewDecoder(get.Body).Decode(&formats))

	is.Equal(len(formats), len(push.AllTemplates))
	is.Equal(formats["mqtt"], "gravmon/${id}/gravity:${gravity}|")
	is.Equal(formats["http-get"], push.TemplateHttpGet.Default())

	// empty restores the default
	res = env.post(t, "/api/format", `{"mqtt":""}`)
	is.Equal(res.StatusCode, http.StatusOK)
	is.Equal(env.deps.Controller.Formatter().Store().Get(push.TemplateMqtt), push.TemplateMqtt.Default())

	res = env.post(t, "/api/format", `{"carrier-pigeon":"x"}`)
	is.Equal(res.StatusCode, http.StatusBadRequest)
}

func TestPushTest(t *testing.T) {
	is := is.New(t)
	env := newTestEnv(t)

	res := env.post(t, "/api/push", `{"push_format":"http-post"}`)
	is.Equal(res.StatusCode, http.StatusOK)

	var out pushTestResponse
	is.NoErr(json.NewDecoder(res.Body).Decode(&out))

	is.Equal(out, pushTestResponse{Success: true, Code: http.StatusOK, Enabled: true})
	is.Equal(len(env.sink.payloads), 1)
	is.True(strings.Contains(env.sink.payloads[0], `"ID": "gw1"`))

	res = env.post(t, "/api/push", `{"push_format":"mqtt"}`)
	out = pushTestResponse{}
	is.NoErr(json.NewDecoder(res.Body).Decode(&out))
	is.Equal(out, pushTestResponse{})

	res = env.post(t, "/api/push", `{"push_format":"nope"}`)
	is.Equal(res.StatusCode, http.StatusBadRequest)
}

func TestHealthAndMetrics(t *testing.T) {
	is := is.New(t)
	env := newTestEnv(t)

	res, err := http.Get(env.srv.URL + "/health")
	is.NoErr(err)
	res.Body.Close()
	is.Equal(res.StatusCode, http.StatusNoContent)

	res, err = http.Get(env.srv.URL + "/metrics")
	is.NoErr(err)
	res.Body.Close()
	is.Equal(res.StatusCode, http.StatusOK)
}
