package models

import (
	"testing"

	"github.com/stretchr/testify/assert"

	projectmodels "sitegate/internal/project/models"
)

func TestEvaluate(t *testing.T) {
	thresholds := projectmodels.Thresholds{
		WindSpeedMph:    20,
		PrecipitationIn: 0.5,
		TempMinF:        20,
		TempMaxF:        100,
	}

	tests := []struct {
		name    string
		reading Reading
		want    []string
	}{
		{
			name:    "calm day flags nothing",
			reading: Reading{WindSpeedMph: 8, PrecipitationIn: 0, TempF: 72},
			want:    nil,
		},
		{
			name:    "wind above limit flags wind only",
			reading: Reading{WindSpeedMph: 21, PrecipitationIn: 0, TempF: 72},
			want:    []string{ReasonWindExceeded},
		},
		{
			name:    "reading exactly at the limit does not flag",
			reading: Reading{WindSpeedMph: 20.0, PrecipitationIn: 0.5, TempF: 100},
			want:    nil,
		},
		{
			name:    "temperature exactly at the minimum does not flag",
			reading: Reading{WindSpeedMph: 0, TempF: 20},
			want:    nil,
		},
		{
			name:    "temperature below minimum",
			reading: Reading{WindSpeedMph: 0, TempF: 19.9},
			want:    []string{ReasonTemperatureBelowMin},
		},
		{
			name:    "several limits tripped at once",
			reading: Reading{WindSpeedMph: 35, PrecipitationIn: 1.2, TempF: 104},
			want:    []string{ReasonWindExceeded, ReasonPrecipitationExceed, ReasonTemperatureAboveMax},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(tt.reading, thresholds))
		})
	}
}
