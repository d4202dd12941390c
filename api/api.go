// Package api serves the remote ingestion endpoint and the admin API of the gateway.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertof/gravmon-gateway/device"
	"github.com/robertof/gravmon-gateway/device/gravitymon"
	"github.com/robertof/gravmon-gateway/push"
	"github.com/robertof/gravmon-gateway/registry"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

const maxBodySize = 8 * 1024

const (
	EndpointBLE  = "ble"
	EndpointWifi = "wifi"
	EndpointTilt = "tilt"
)

// Settings are the gateway settings reported by the status endpoint.
type Settings struct {
	ID          string
	Name        string
	TempUnit    string
	GravityUnit string
	ResendTime  time.Duration
	AppVersion  string
}

type ScanState interface {
	Scanning() bool
}

type Deps struct {
	Settings   Settings
	Tilts      *registry.Table[device.TiltReading]
	Sensors    *registry.Table[device.SensorReading]
	Remote     *registry.Table[device.SensorReading]
	Controller *push.Controller
	// Optional.
	Scanner  ScanState
	Gatherer prometheus.Gatherer
}

func NewRouter(d Deps) *chi.Mux {
	router := chi.NewRouter()

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	router.Post("/post", remotePostHandler(d.Remote))

	router.Route("/api", func(r chi.Router) {
		r.Get("/status", statusHandler(d))
		r.Get("/format", getFormatHandler(d.Controller.Formatter().Store()))
		r.Post("/format", postFormatHandler(d.Controller.Formatter().Store()))
		r.Post("/push", pushTestHandler(d.Controller))
	})

	if d.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	return router
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("api: failed to write response")
	}
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	defer r.Body.Close()

	return io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
}

func remotePostHandler(remote *registry.Table[device.SensorReading]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readBody(w, r)
		if err != nil {
			log.Debug().Err(err).Msg("api: unable to read body")
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}

		reading, err := gravitymon.DecodeRemotePostJSON(body)
		if err != nil {
			log.Debug().Err(err).Str("RemoteAddr", r.RemoteAddr).Msg("api: rejected remote post")
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}

		reading.Address = r.RemoteAddr

		if _, err := remote.Put(reading.ID(), reading); err != nil {
			if errors.Is(err, registry.ErrFull) {
				log.Error().Str("ID", reading.ID()).Msg("api: remote device table is full")
			}

			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}

		log.Info().Stringer("Reading", reading).Msg("api: stored remote reading")

		w.WriteHeader(http.StatusOK)
	}
}

type deviceStatus struct {
	ID        string  `json:"id"`
	Name      string  `json:"name,omitempty"`
	Endpoint  string  `json:"endpoint"`
	Gravity   float64 `json:"gravity"`
	Temp      float64 `json:"temp"`
	Angle     float64 `json:"angle,omitempty"`
	Battery   float64 `json:"battery,omitempty"`
	RSSI      int     `json:"rssi"`
	UpdateAge int     `json:"update_age"`
	PushAge   int     `json:"push_age"`
}

type statusResponse struct {
	ID          string         `json:"id"`
	Mdns        string         `json:"mdns"`
	TempUnit    string         `json:"temp_unit"`
	GravityUnit string         `json:"gravity_unit"`
	ResendTime  int            `json:"resend_time"`
	AppVersion  string         `json:"app_ver,omitempty"`
	Scanning    bool           `json:"scanning"`
	Devices     []deviceStatus `json:"devices"`
	PushHistory []string       `json:"push_history"`
}

func convertTemp(c float64, unit string) float64 {
	if unit == push.TempUnitF {
		return device.ConvertCtoF(c)
	}

	return c
}

func convertGravity(sg float64, unit string) float64 {
	if unit == push.GravityUnitPlato {
		return device.ConvertToPlato(sg)
	}

	return sg
}

func sensorStatuses(s Settings, table *registry.Table[device.SensorReading], endpoint string) []deviceStatus {
	if table == nil {
		return nil
	}

	return lo.Map(table.Occupied(), func(e registry.Entry[device.SensorReading], _ int) deviceStatus {
		return deviceStatus{
			ID:        e.ID,
			Name:      e.Reading.Name,
			Endpoint:  endpoint,
			Gravity:   convertGravity(e.Reading.GravitySG, s.GravityUnit),
			Temp:      convertTemp(e.Reading.TempC, s.TempUnit),
			Angle:     e.Reading.Angle,
			Battery:   e.Reading.BatteryVolts,
			RSSI:      e.Reading.RSSI,
			UpdateAge: int(table.UpdateAge(e).Seconds()),
			PushAge:   int(table.PushAge(e).Seconds()),
		}
	})
}

func tiltStatuses(s Settings, table *registry.Table[device.TiltReading]) []deviceStatus {
	if table == nil {
		return nil
	}

	return lo.Map(table.Occupied(), func(e registry.Entry[device.TiltReading], _ int) deviceStatus {
		return deviceStatus{
			ID:        e.ID,
			Endpoint:  EndpointTilt,
			Gravity:   convertGravity(e.Reading.GravitySG, s.GravityUnit),
			Temp:      convertTemp(device.ConvertFtoC(e.Reading.TempF), s.TempUnit),
			RSSI:      e.Reading.RSSI,
			UpdateAge: int(table.UpdateAge(e).Seconds()),
			PushAge:   int(table.PushAge(e).Seconds()),
		}
	})
}

func statusHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := d.Settings

		res := statusResponse{
			ID:          s.ID,
			Mdns:        s.Name,
			TempUnit:    s.TempUnit,
			GravityUnit: s.GravityUnit,
			ResendTime:  int(s.ResendTime.Seconds()),
			AppVersion:  s.AppVersion,
			Devices:     []deviceStatus{},
			PushHistory: d.Controller.History(),
		}

		if d.Scanner != nil {
			res.Scanning = d.Scanner.Scanning()
		}

		res.Devices = append(res.Devices, sensorStatuses(s, d.Sensors, EndpointBLE)...)
		res.Devices = append(res.Devices, sensorStatuses(s, d.Remote, EndpointWifi)...)
		res.Devices = append(res.Devices, tiltStatuses(s, d.Tilts)...)

		writeJSON(w, http.StatusOK, res)
	}
}

func getFormatHandler(store *push.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formats := lo.Associate(push.AllTemplates, func(t push.Template) (string, string) {
			return t.String(), store.Get(t)
		})

		writeJSON(w, http.StatusOK, formats)
	}
}

// Body is an object of template name to template, an empty template restores
// the default.
func postFormatHandler(store *push.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readBody(w, r)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		var formats map[string]string
		if err := json.Unmarshal(body, &formats); err != nil {
			log.Debug().Err(err).Msg("api: unable to unmarshal formats")
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		templates := make(map[push.Template]string, len(formats))

		for name, tpl := range formats {
			t, err := push.ParseTemplate(name)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": err.Error()})
				return
			}

			templates[t] = tpl
		}

		for t, tpl := range templates {
			if err := store.Set(t, tpl); err != nil {
				log.Error().Err(err).Stringer("Template", t).Msg("api: unable to store template")
				writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "message": err.Error()})
				return
			}

			log.Info().Stringer("Template", t).Msg("api: template updated")
		}

		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

type pushTestRequest struct {
	Format string `json:"push_format"`
}

type pushTestResponse struct {
	Success bool `json:"success"`
	Code    int  `json:"code"`
	Enabled bool `json:"enabled"`
}

func pushTestHandler(ctrl *push.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readBody(w, r)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		var req pushTestRequest
		if err := json.Unmarshal(body, &req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		if _, err := push.ParseTemplate(req.Format); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		res, enabled := ctrl.PushTest(r.Context(), req.Format)

		writeJSON(w, http.StatusOK, pushTestResponse{
			Success: res.Success,
			Code:    res.Code,
			Enabled: enabled,
		})
	}
}
