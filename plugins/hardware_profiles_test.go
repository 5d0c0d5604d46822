package plugins

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/linht/pir-manager/pyd1598"
)

const testConfig = `# PIR manager
server:
  port: "8080"
pir:
  backend: sim
  sensors:
    - name: front # hallway
      serial_in: 17
      direct_link: 27
    - name: back
      serial_in: 22
      direct_link: 23
      profile:
        threshold: 10
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	assert.NilError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestProfileStoreSave(t *testing.T) {
	path := writeConfig(t, testConfig)
	store, err := NewProfileStore(path)
	assert.NilError(t, err)

	front := pyd1598.Pack(pyd1598.DefaultFields)
	backFields := pyd1598.DefaultFields
	backFields.Threshold = 99
	backFields.OperationMode = pyd1598.ForcedReadout
	back := pyd1598.Pack(backFields)

	updated, err := store.Save(map[string]pyd1598.Config{
		"front": front,
		"back":  back,
		"ghost": front,
	})
	assert.NilError(t, err)
	assert.Equal(t, updated, 2)

	data, err := os.ReadFile(path)
	assert.NilError(t, err)
	text := string(data)
	assert.Check(t, is.Contains(text, "# PIR manager"))
	assert.Check(t, is.Contains(text, "# hallway"))
	assert.Assert(t, strings.Index(text, "server:") < strings.Index(text, "pir:"))

	// the saved profiles reproduce the registers
	var cfg struct {
		PIR PIRConfig `yaml:"pir"`
	}
	assert.NilError(t, yaml.Unmarshal(data, &cfg))
	assert.Equal(t, len(cfg.PIR.Sensors), 2)

	for _, sc := range cfg.PIR.Sensors {
		d := bareDevice(t)
		assert.NilError(t, sc.Profile.Apply(d))
		want := front
		if sc.Name == "back" {
			want = back
		}
		assert.Equal(t, d.Desired(), want, "sensor %s", sc.Name)
	}
}

func TestProfileStoreLoad(t *testing.T) {
	store, err := NewProfileStore(writeConfig(t, testConfig))
	assert.NilError(t, err)

	data, err := store.Load()
	assert.NilError(t, err)

	out, err := json.Marshal(data)
	assert.NilError(t, err)
	assert.Check(t, is.Contains(string(out), `{"name":"front","serial_in":17,"direct_link":27}`))
	assert.Check(t, is.Contains(string(out), `"profile":{"threshold":10}`))
}

func TestProfileStoreLoadScalars(t *testing.T) {
	store, err := NewProfileStore(writeConfig(t, `pir:
  sensors:
    - name: "0x11"
      serial_in: 0x11
      direct_link: 27
      enabled: true
      note: ~
      profile:
        hpf_cutoff: 0.4hz
        signal_source: 1.5
`))
	assert.NilError(t, err)

	data, err := store.Load()
	assert.NilError(t, err)
	out, err := json.Marshal(data)
	assert.NilError(t, err)
	assert.Equal(t, string(out), `[{"name":"0x11","serial_in":17,"direct_link":27,"enabled":true,"note":null,`+
		`"profile":{"hpf_cutoff":"0.4hz","signal_source":"1.5"}}]`)
}

func TestProfileStoreErrors(t *testing.T) {
	_, err := NewProfileStore("")
	assert.ErrorContains(t, err, "config path")

	store, err := NewProfileStore(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.NilError(t, err)
	_, err = store.Load()
	assert.ErrorContains(t, err, "failed to read")

	store, err = NewProfileStore(writeConfig(t, "server:\n  port: \"8080\"\n"))
	assert.NilError(t, err)
	_, err = store.Save(nil)
	assert.ErrorContains(t, err, "pir.sensors")
}

func TestRoutesSaveProfiles(t *testing.T) {
	path := writeConfig(t, testConfig)
	_, app := newTestPlugin(t, NewSimBackend(0), PIRConfig{
		ConfigPath: path,
		Sensors: []SensorConfig{
			sensorCfg("front", 17, 27, "forced"),
		},
	})

	status, resp := call(t, app, http.MethodPost, "/api/pir/front/config", `{"threshold": 77}`)
	assert.Equal(t, status, http.StatusOK, resp.Error)

	status, resp = call(t, app, http.MethodPost, "/api/pir/profiles/save", "")
	assert.Equal(t, status, http.StatusOK, resp.Error)
	var data struct {
		Updated int `json:"updated"`
	}
	decode(t, resp.Data, &data)
	assert.Equal(t, data.Updated, 1)

	status, resp = call(t, app, http.MethodGet, "/api/pir/profiles", "")
	assert.Equal(t, status, http.StatusOK)
	assert.Check(t, is.Contains(string(resp.Data), `"threshold":77`))
	assert.Check(t, is.Contains(string(resp.Data), `"operation_mode":"forced"`))
	// back is not part of this array and keeps its profile
	assert.Check(t, is.Contains(string(resp.Data), `"profile":{"threshold":10}`))
}
