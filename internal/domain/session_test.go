package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestCommandForLabel_Exhaustive 映射表必须覆盖所有标签取值
func TestCommandForLabel_Exhaustive(t *testing.T) {
	assert.Equal(t, CommandDispense1, CommandForLabel(LabelDiseaseA))
	assert.Equal(t, CommandDispense2, CommandForLabel(LabelDiseaseB))

	// 未映射的标签一律 no-command
	assert.Equal(t, CommandNone, CommandForLabel(LabelNoneYet))
	assert.Equal(t, CommandNone, CommandForLabel(LabelUndetermined))
	assert.Equal(t, CommandNone, CommandForLabel(Label("unknown")))
}

func TestLabelDetermined(t *testing.T) {
	assert.True(t, LabelDiseaseA.Determined())
	assert.True(t, LabelDiseaseB.Determined())
	assert.False(t, LabelNoneYet.Determined())
	assert.False(t, LabelUndetermined.Determined())
}

func TestSessionStatusTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusDispensed.Terminal())

	for _, s := range NonTerminalStatuses() {
		assert.False(t, s.Terminal(), string(s))
	}
}

func TestLatestReading(t *testing.T) {
	s := &Session{}
	assert.Nil(t, s.LatestReading())

	first := Reading{Timestamp: time.Now(), BPM: 70, SpO2: 98, Temperature: 36.5}
	second := Reading{Timestamp: time.Now(), BPM: 100, SpO2: 92, Temperature: 38.0}
	s.Readings = []Reading{first, second}

	latest := s.LatestReading()
	assert.NotNil(t, latest)
	assert.Equal(t, second.BPM, latest.BPM)
}
