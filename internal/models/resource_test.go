package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCharacteristicComparisons(t *testing.T) {
	a := Characteristic{Code: "C1", Type: CharacteristicTypeChargingPoint, Value: "x"}
	b := Characteristic{Code: "C1", Type: CharacteristicTypeChargingPoint, Value: "y"}

	assert.False(t, SameIdentity(a, b), "transient characteristics have no identity")
	assert.True(t, SameBusinessKey(a, b))

	a.ID, b.ID = 7, 7
	assert.True(t, SameIdentity(a, b))

	b.ID = 8
	assert.False(t, SameIdentity(a, b))
	assert.True(t, SameBusinessKey(a, b))

	b.Type = CharacteristicTypeConsumptionType
	assert.False(t, SameBusinessKey(a, b))
}

func TestResourceChildrenFollowRoot(t *testing.T) {
	r := &Resource{ID: 3, CountryCode: "EE"}
	r.SetLocation(&Location{CountryCode: "FI"})
	require.NotNil(t, r.Location)
	assert.Equal(t, int64(3), r.Location.ResourceID)

	assert.True(t, r.AlignLocationCountry())
	assert.Equal(t, "EE", r.Location.CountryCode)
	assert.False(t, r.AlignLocationCountry())

	r.ReplaceCharacteristics([]Characteristic{{Code: "A"}, {ID: 4, Code: "B"}})
	require.Len(t, r.Characteristics, 2)
	for _, c := range r.Characteristics {
		assert.Equal(t, int64(3), c.ResourceID)
	}
}

func TestEnumDecoding(t *testing.T) {
	var req ResourceRequest
	err := json.Unmarshal([]byte(`{"type":"METERING_POINT","countryCode":"EE"}`), &req)
	require.NoError(t, err)
	require.NotNil(t, req.Type)
	assert.Equal(t, ResourceTypeMeteringPoint, *req.Type)

	err = json.Unmarshal([]byte(`{"type":"GAS_POINT"}`), &req)
	var enumErr *InvalidEnumError
	require.True(t, errors.As(err, &enumErr))
	assert.Equal(t, "GAS_POINT", enumErr.Value)

	err = json.Unmarshal([]byte(`{"characteristics":[{"code":"A","type":"NOPE","value":"v"}]}`), &req)
	require.True(t, errors.As(err, &enumErr))
	assert.Equal(t, "CharacteristicType", enumErr.Enum)
}

func TestPatchRequestDistinguishesAbsentFromEmpty(t *testing.T) {
	var absent PatchResourceRequest
	require.NoError(t, json.Unmarshal([]byte(`{"type":"CONNECTION_POINT"}`), &absent))
	assert.Nil(t, absent.Characteristics)
	assert.Nil(t, absent.CountryCode)

	var empty PatchResourceRequest
	require.NoError(t, json.Unmarshal([]byte(`{"characteristics":[]}`), &empty))
	require.NotNil(t, empty.Characteristics)
	assert.Empty(t, *empty.Characteristics)
}

func TestEventTimestampLayout(t *testing.T) {
	zone := time.FixedZone("EET", 2*60*60)
	at := time.Date(2024, 3, 1, 10, 30, 0, 123000000, zone)

	ev := NewResourceEvent(EventTypeDeleted, 12, nil, at)
	assert.Equal(t, "2024-03-01T10:30:00.123+02:00", ev.EventTimestamp)
	assert.Equal(t, "12", ev.PartitionKey())
	assert.Len(t, ev.EventID, 36)

	body, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"resource":null`)
}
