package skills

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateManifest(t *testing.T) {
	m := Manifest{
		Name:    "weather",
		Version: "1.2.3",
		Functions: []FunctionDef{
			{Name: "forecast", Description: "Forecast the weather"},
		},
	}
	assert.NoError(t, ValidateManifest(m))
}

func TestValidateManifest_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Manifest)
		errMatch string
	}{
		{"missing version", func(m *Manifest) { m.Version = "" }, "invalid manifest"},
		{"bad version format", func(m *Manifest) { m.Version = "1.0" }, "invalid manifest"},
		{"no functions", func(m *Manifest) { m.Functions = nil }, "invalid manifest"},
		{"uppercase name", func(m *Manifest) { m.Name = "Weather" }, "invalid skill name"},
		{"private without owner", func(m *Manifest) { m.Visibility = VisibilityPrivate }, "must declare an owner"},
		{
			"duplicate function",
			func(m *Manifest) {
				m.Functions = append(m.Functions, FunctionDef{Name: "forecast"})
			},
			"duplicate function",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Manifest{
				Name:      "weather",
				Version:   "1.0.0",
				Functions: []FunctionDef{{Name: "forecast"}},
			}
			tt.mutate(&m)
			err := ValidateManifest(m)
			assert.ErrorContains(t, err, tt.errMatch)
		})
	}
}

func TestParseManifest(t *testing.T) {
	data := []byte(`{
		"name": "clock",
		"version": "1.0.0",
		"visibility": "private",
		"owner": "user-1",
		"functions": [{"name": "current_time"}]
	}`)

	m, err := ParseManifest(data)
	require.NoError(t, err)
	assert.Equal(t, "clock", m.Name)
	assert.Equal(t, VisibilityPrivate, m.Visibility)
	assert.Equal(t, "user-1", m.Owner)
}

func TestParseManifest_BadJSON(t *testing.T) {
	_, err := ParseManifest([]byte("{"))
	assert.Error(t, err)
}
