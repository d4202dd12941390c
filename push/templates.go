package push

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"
)

type Template uint8

const (
	TemplateHttpPost Template = iota
	TemplateHttpPost2
	TemplateHttpGet
	TemplateInfluxDB
	TemplateMqtt
)

var AllTemplates = []Template{
	TemplateHttpPost, TemplateHttpPost2, TemplateHttpGet, TemplateInfluxDB, TemplateMqtt,
}

// iSpindel compatible body, HTTP POST.
const iSpindelFormat = `{"name": "${mdns}", ` +
	`"ID": "${id}", ` +
	`"token": "${token}", ` +
	`"interval": ${sleep-interval}, ` +
	`"temperature": ${temp}, ` +
	`"temp_units": "${temp-unit}", ` +
	`"gravity": ${gravity}, ` +
	`"angle": ${angle}, ` +
	`"battery": ${battery}, ` +
	`"RSSI": ${rssi}}`

// Appended to the configured URL, HTTP GET.
const httpGetFormat = "?name=${mdns}" +
	"&id=${id}" +
	"&token=${token2}" +
	"&interval=${sleep-interval}" +
	"&temperature=${temp}" +
	"&temp-units=${temp-unit}" +
	"&gravity=${gravity}" +
	"&angle=${angle}" +
	"&battery=${battery}" +
	"&rssi=${rssi}" +
	"&corr-gravity=${corr-gravity}" +
	"&gravity-unit=${gravity-unit}" +
	"&run-time=${run-time}"

const influxDBFormat = "measurement,host=${mdns},device=${id},temp-format=${temp-unit},gravity-format=${gravity-unit} " +
	"gravity=${gravity},corr-gravity=${corr-gravity},angle=${angle},temp=${temp},battery=${battery}," +
	"rssi=${rssi}\n"

// topic:value pairs separated by '|'.
const mqttFormat = "ispindel/${mdns}/tilt:${angle}|" +
	"ispindel/${mdns}/temperature:${temp}|" +
	"ispindel/${mdns}/temp_units:${temp-unit}|" +
	"ispindel/${mdns}/battery:${battery}|" +
	"ispindel/${mdns}/gravity:${gravity}|" +
	"ispindel/${mdns}/interval:${sleep-interval}|" +
	"ispindel/${mdns}/RSSI:${rssi}|"

func (t Template) String() string {
	switch t {
	case TemplateHttpPost:
		return "http-post"
	case TemplateHttpPost2:
		return "http-post2"
	case TemplateHttpGet:
		return "http-get"
	case TemplateInfluxDB:
		return "influxdb"
	case TemplateMqtt:
		return "mqtt"
	default:
		panic("unknown template: " + strconv.Itoa(int(t)))
	}
}

// FileName is the name of the file overriding the template in the template directory.
func (t Template) FileName() string {
	switch t {
	case TemplateHttpPost:
		return "http-1.tpl"
	case TemplateHttpPost2:
		return "http-2.tpl"
	case TemplateHttpGet:
		return "http-3.tpl"
	case TemplateInfluxDB:
		return "influxdb.tpl"
	case TemplateMqtt:
		return "mqtt.tpl"
	default:
		panic("unknown template: " + strconv.Itoa(int(t)))
	}
}

func (t Template) Default() string {
	switch t {
	case TemplateHttpPost, TemplateHttpPost2:
		return iSpindelFormat
	case TemplateHttpGet:
		return httpGetFormat
	case TemplateInfluxDB:
		return influxDBFormat
	case TemplateMqtt:
		return mqttFormat
	default:
		panic("unknown template: " + strconv.Itoa(int(t)))
	}
}

func ParseTemplate(name string) (Template, error) {
	for _, t := range AllTemplates {
		if t.String() == name {
			return t, nil
		}
	}

	return 0, fmt.Errorf("unknown template %q", name)
}

// Store resolves the template of each sink. A file in Dir wins over the configured
// override, which wins over the built-in default.
type Store struct {
	// Empty disables file overrides.
	Dir string

	mu sync.RWMutex
	overrides map[Template]string
}

func NewStore(dir string, overrides map[Template]string) *Store {
	o := make(map[Template]string, len(overrides))

	for t, tpl := range overrides {
		if tpl != "" {
			o[t] = tpl
		}
	}

	return &Store{Dir: dir, overrides: o}
}

func (s *Store) path(t Template) string {
	return filepath.Join(s.Dir, t.FileName())
}

func (s *Store) readFile(t Template) (string, bool) {
	if s.Dir == "" {
		return "", false
	}

	data, err := os.ReadFile(s.path(t))

	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Stringer("Template", t).Msg("push: cannot read template file")
		}

		return "", false
	}

	return string(data), true
}

// Get returns the template in use for t.
func (s *Store) Get(t Template) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if tpl, ok := s.readFile(t); ok {
		log.Trace().Stringer("Template", t).Msg("push: template loaded from disk")
		return tpl
	}

	if tpl, ok := s.overrides[t]; ok {
		return tpl
	}

	return t.Default()
}

// Set stores tpl as the file override of t. An empty tpl removes the file.
func (s *Store) Set(t Template, tpl string) error {
	if s.Dir == "" {
		return fmt.Errorf("no template directory configured")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if tpl == "" {
		if err := os.Remove(s.path(t)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("cannot remove template %v: %w", t, err)
		}

		return nil
	}

	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("cannot create template directory: %w", err)
	}

	if err := os.WriteFile(s.path(t), []byte(tpl), 0o644); err != nil {
		return fmt.Errorf("cannot write template %v: %w", t, err)
	}

	return nil
}
