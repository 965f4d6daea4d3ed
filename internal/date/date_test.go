package date

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.yaml.in/yaml/v3"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "valid date", input: "2024-06-01"},
		{name: "leap day", input: "2024-02-29"},
		{name: "non-leap february 29", input: "2023-02-29", wantErr: true},
		{name: "month out of range", input: "2024-13-01", wantErr: true},
		{name: "missing zero padding", input: "2024-6-1", wantErr: true},
		{name: "trailing time", input: "2024-06-01T00:00:00Z", wantErr: true},
		{name: "slashes", input: "2024/06/01", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Parse(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.input, d.String())
		})
	}
}

func TestMonthRange(t *testing.T) {
	start, end := MonthRange(2024, time.February)
	assert.Equal(t, "2024-02-01", start.String())
	assert.Equal(t, "2024-02-29", end.String())

	start, end = MonthRange(2023, time.December)
	assert.Equal(t, "2023-12-01", start.String())
	assert.Equal(t, "2023-12-31", end.String())
}

func TestOf_DropsTimeOfDay(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*60*60)
	d := Of(time.Date(2024, time.March, 3, 23, 59, 0, 0, loc))

	assert.Equal(t, "2024-03-03", d.String())
	assert.Equal(t, time.UTC, d.Location())
}

func TestJSONRoundTrip(t *testing.T) {
	type payload struct {
		Due Date `json:"due"`
	}

	data, err := json.Marshal(payload{Due: New(2024, time.September, 1)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"due":"2024-09-01"}`, string(data))

	var p payload
	require.NoError(t, json.Unmarshal([]byte(`{"due":"2025-01-31"}`), &p))
	assert.Equal(t, New(2025, time.January, 31), p.Due)

	assert.Error(t, json.Unmarshal([]byte(`{"due":"31/01/2025"}`), &p))
}

func TestYAMLUnmarshal(t *testing.T) {
	var v struct {
		Due Date `yaml:"due"`
	}

	require.NoError(t, yaml.Unmarshal([]byte("due: 2024-12-25\n"), &v))
	assert.Equal(t, "2024-12-25", v.Due.String())
}

func TestScan(t *testing.T) {
	var d Date

	require.NoError(t, d.Scan(time.Date(2024, time.July, 4, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2024-07-04", d.String())

	require.NoError(t, d.Scan("2024-07-05"))
	assert.Equal(t, "2024-07-05", d.String())

	require.NoError(t, d.Scan([]byte("2024-07-06T00:00:00Z")))
	assert.Equal(t, "2024-07-06", d.String())

	assert.Error(t, d.Scan(nil))
	assert.Error(t, d.Scan(42))
}

func TestValue(t *testing.T) {
	v, err := New(2024, time.January, 2).Value()
	require.NoError(t, err)
	assert.Equal(t, "2024-01-02", v)
}

func TestDateAsMapKey(t *testing.T) {
	byDate := map[Date][]string{
		New(2024, time.September, 1): {"a"},
	}

	parsed, err := Parse("2024-09-01")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, byDate[parsed])

	data, err := json.Marshal(byDate)
	require.NoError(t, err)
	assert.JSONEq(t, `{"2024-09-01":["a"]}`, string(data))
}
