package models

import (
	"reflect"
	"testing"
)

func TestUpdateAssignments(t *testing.T) {
	name := "Kota Kinabalu"
	code := int64(1003)
	nested := FlexInt(1000)
	text := "Sunny"
	temp := 21.5

	tests := []struct {
		name        string
		assignments []Assignment
		want        []Assignment
	}{
		{
			name:        "empty location update",
			assignments: LocationUpdate{}.Assignments(),
			want:        nil,
		},
		{
			name:        "location name only",
			assignments: LocationUpdate{Name: &name}.Assignments(),
			want:        []Assignment{{Column: "name", Value: name}},
		},
		{
			name:        "flat condition code",
			assignments: DayDataUpdate{ConditionCode: &code}.Assignments(),
			want:        []Assignment{{Column: "condition_code", Value: code}},
		},
		{
			name: "nested condition wins over flat code",
			assignments: HourDataUpdate{
				ConditionCode: &code,
				Condition:     &PayloadCondition{Code: &nested, Text: &text},
				TempC:         &temp,
			}.Assignments(),
			want: []Assignment{
				{Column: "condition_code", Value: int64(1000)},
				{Column: "temp_c", Value: temp},
			},
		},
		{
			name:        "nested condition without code is ignored",
			assignments: DayDataUpdate{Condition: &PayloadCondition{Text: &text}}.Assignments(),
			want:        nil,
		},
		{
			name:        "condition text",
			assignments: ConditionUpdate{Text: &text}.Assignments(),
			want:        []Assignment{{Column: "text", Value: text}},
		},
		{
			name:        "raw data",
			assignments: RawClimateDataUpdate{RawData: JSONData(`{}`)}.Assignments(),
			want:        []Assignment{{Column: "raw_data", Value: JSONData(`{}`)}},
		},
		{
			name:        "empty raw data",
			assignments: RawClimateDataUpdate{}.Assignments(),
			want:        nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !reflect.DeepEqual(tt.assignments, tt.want) {
				t.Errorf("Assignments() = %#v, want %#v", tt.assignments, tt.want)
			}
		})
	}
}

func TestJSONData_Scan(t *testing.T) {
	src := []byte(`{"speed":0.5}`)
	var j JSONData
	if err := j.Scan(src); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	src[2] = 'X'
	if string(j) != `{"speed":0.5}` {
		t.Errorf("Scan() kept a reference to the driver buffer: %s", j)
	}

	var fan FanStatusData
	if err := j.Decode(&fan); err != nil || fan.Speed != 0.5 {
		t.Errorf("Decode() = %+v, %v", fan, err)
	}

	if err := j.Scan(nil); err != nil || j != nil {
		t.Errorf("Scan(nil) = %v, %v", j, err)
	}
	if err := j.Scan(42); err == nil {
		t.Error("Scan(int) should fail")
	}

	out, _ := JSONData(nil).MarshalJSON()
	if string(out) != "null" {
		t.Errorf("MarshalJSON(nil) = %s", out)
	}
}
