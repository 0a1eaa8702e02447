package rabbitmq

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	timeout = time.Second
	tick    = 5 * time.Millisecond
)

func TestPlantIDFromTopic(t *testing.T) {
	tests := []struct {
		topic   string
		want    int64
		wantErr bool
	}{
		{topic: "garden/101/sensors", want: 101},
		{topic: "/garden/7/sensors/", want: 7},
		{topic: "garden/abc/sensors", wantErr: true},
		{topic: "garden/101", wantErr: true},
		{topic: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			got, err := PlantIDFromTopic(tt.topic)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPlantTopic(t *testing.T) {
	assert.Equal(t, "garden/101/control", PlantTopic(DefaultControlTopic, 101))
}
