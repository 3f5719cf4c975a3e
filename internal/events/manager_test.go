package events

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_EmitFansOut(t *testing.T) {
	m := NewManager(zerolog.New(nil).Level(zerolog.Disabled))

	var first, second []*Event
	unsubscribe := m.Subscribe(func(e *Event) { first = append(first, e) })
	m.Subscribe(func(e *Event) { second = append(second, e) })
	assert.Equal(t, 2, m.SubscriberCount())

	m.Emit(Market, "agent", map[string]interface{}{"quote_count": 3})
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, Market, first[0].Type)
	assert.Equal(t, "agent", first[0].Module)
	assert.Equal(t, 3, first[0].Data["quote_count"])

	unsubscribe()
	m.Emit(News, "news", nil)
	assert.Len(t, first, 1)
	assert.Len(t, second, 2)
}

func TestManager_EmitWithoutSubscribers(t *testing.T) {
	m := NewManager(zerolog.New(nil).Level(zerolog.Disabled))
	assert.NotPanics(t, func() {
		m.Emit(Report, "agent", map[string]interface{}{"total_asset": 1.0})
		m.EmitError("agent", errors.New("boom"), nil)
	})
}

func TestManager_EmitData(t *testing.T) {
	m := NewManager(zerolog.New(nil).Level(zerolog.Disabled))

	var got *Event
	m.Subscribe(func(e *Event) { got = e })

	m.EmitData("kiwoom", &ConditionData{Action: "I", Symbol: "005930", Time: "093001"})

	require.NotNil(t, got)
	assert.Equal(t, Condition, got.Type)
	assert.Equal(t, "I", got.Data["action"])
	assert.Equal(t, "005930", got.Data["symbol"])
	assert.Equal(t, "093001", got.Data["time"])
}

func TestToMap_Report(t *testing.T) {
	m := ToMap(&ReportData{ReportID: "r1", TotalAsset: 1500000, TradeCount: 2})
	assert.Equal(t, "r1", m["report_id"])
	assert.Equal(t, 1500000.0, m["total_asset"])
	assert.Equal(t, 2.0, m["trade_count"])
}
