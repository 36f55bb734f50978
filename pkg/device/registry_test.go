package device

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFleet() []Device {
	return []Device{
		{ID: "ipad", Name: "iPad", Status: StatusConnected, Battery: 80},
		{ID: "iphone15", Name: "iPhone 15", Status: StatusConnected, Battery: 55},
		{ID: "iphone17", Name: "iPhone 17", Status: StatusOffline, Battery: 12},
	}
}

func TestNewRegistryKeepsOrderAndDropsDuplicates(t *testing.T) {
	devices := append(testFleet(), Device{ID: "ipad", Name: "Duplicate"})
	r := NewRegistry(devices, nil)

	list := r.List()
	require.Len(t, list, 3)
	assert.Equal(t, []string{"ipad", "iphone15", "iphone17"}, IDs(list))
	assert.Equal(t, "iPad", list[0].Name)
}

func TestFilter(t *testing.T) {
	r := NewRegistry(testFleet(), nil)

	online := r.Filter(Device.Online)
	assert.Equal(t, []string{"ipad", "iphone15"}, IDs(online))

	none := r.Filter(func(d Device) bool { return d.Battery > 100 })
	assert.Empty(t, none)
}

func TestUpdateManyAppliesPatchAtomically(t *testing.T) {
	r := NewRegistry(testFleet(), nil)
	before := r.List()

	after := r.UpdateMany([]string{"ipad", "iphone15"}, SetStatus(StatusBusy))

	assert.Equal(t, StatusBusy, after[0].Status)
	assert.Equal(t, StatusBusy, after[1].Status)
	assert.Equal(t, StatusOffline, after[2].Status)

	// Earlier snapshot is untouched.
	assert.Equal(t, StatusConnected, before[0].Status)
	assert.Equal(t, StatusConnected, before[1].Status)
}

func TestUpdateManyIgnoresUnknownIDs(t *testing.T) {
	r := NewRegistry(testFleet(), nil)
	app := "Safari"

	after := r.UpdateMany([]string{"ghost", "ipad"}, Patch{ActiveApp: &app})

	require.Len(t, after, 3)
	assert.Equal(t, "Safari", after[0].ActiveApp)
	assert.Empty(t, after[1].ActiveApp)
}

func TestUpdateManyRejectsInvalidTransition(t *testing.T) {
	r := NewRegistry(testFleet(), nil)

	after := r.UpdateMany([]string{"iphone17"}, SetStatus(StatusBusy))

	assert.Equal(t, StatusOffline, after[2].Status, "offline device must not become busy")
}

func TestUpdateEachPerDevicePatch(t *testing.T) {
	r := NewRegistry(testFleet(), nil)

	after := r.UpdateEach([]string{"ipad", "iphone15"}, func(d Device) Patch {
		ref := "shot-" + d.ID
		return Patch{ScreenImage: &ref}
	})

	assert.Equal(t, "shot-ipad", after[0].ScreenImage)
	assert.Equal(t, "shot-iphone15", after[1].ScreenImage)
}

func TestPatchClampsBattery(t *testing.T) {
	over, under := 140, -3
	d, err := Patch{Battery: &over}.Apply(Device{ID: "x", Status: StatusConnected})
	require.NoError(t, err)
	assert.Equal(t, 100, d.Battery)

	d, err = Patch{Battery: &under}.Apply(d)
	require.NoError(t, err)
	assert.Equal(t, 0, d.Battery)
}

func TestValidTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusConnected, StatusBusy, true},
		{StatusBusy, StatusConnected, true},
		{StatusBusy, StatusOffline, true},
		{StatusOffline, StatusConnected, true},
		{StatusOffline, StatusBusy, false},
		{StatusConnected, StatusConnected, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestReconnect(t *testing.T) {
	r := NewRegistry(testFleet(), nil)

	d, err := r.Reconnect("iphone17")
	require.NoError(t, err)
	assert.Equal(t, StatusConnected, d.Status)

	_, err = r.Reconnect("ghost")
	assert.ErrorIs(t, err, ErrNotFound)

	r.UpdateMany([]string{"ipad"}, SetStatus(StatusBusy))
	d, err = r.Reconnect("ipad")
	require.NoError(t, err)
	assert.Equal(t, StatusBusy, d.Status, "reconnect must not interrupt a busy device")
}

func TestSubscribeReceivesSnapshots(t *testing.T) {
	r := NewRegistry(testFleet(), nil)

	var got [][]Device
	r.Subscribe(func(d []Device) { got = append(got, d) })

	r.UpdateMany([]string{"ipad"}, SetStatus(StatusBusy))
	r.UpdateMany([]string{"ghost"}, SetStatus(StatusBusy)) // no change, no notification
	r.Replace([]Device{{ID: "solo", Name: "Solo", Status: StatusConnected}})

	require.Len(t, got, 2)
	assert.Equal(t, StatusBusy, got[0][0].Status)
	assert.Equal(t, []string{"solo"}, IDs(got[1]))
}

func TestConcurrentUpdatesNeverTear(t *testing.T) {
	r := NewRegistry(testFleet(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.UpdateMany([]string{"ipad", "iphone15"}, SetStatus(StatusBusy))
			r.UpdateMany([]string{"ipad", "iphone15"}, SetStatus(StatusConnected))
		}()
		go func() {
			defer wg.Done()
			list := r.List()
			// Both targets always move together.
			assert.Equal(t, list[0].Status, list[1].Status)
		}()
	}
	wg.Wait()
}

func TestUpdateWhereReturnsChangedDevices(t *testing.T) {
	r := NewRegistry(testFleet(), nil)

	claimed := r.UpdateWhere(func(d Device) Patch {
		if !d.Online() {
			return Patch{}
		}
		return SetStatus(StatusBusy)
	})

	assert.Equal(t, []string{"ipad", "iphone15"}, IDs(claimed))
	for _, d := range claimed {
		assert.Equal(t, StatusBusy, d.Status)
	}
	offline, _ := r.Get("iphone17")
	assert.Equal(t, StatusOffline, offline.Status)

	none := r.UpdateWhere(func(Device) Patch { return Patch{} })
	assert.Empty(t, none)
}

func TestSubscribersSeeCommitOrder(t *testing.T) {
	fleet := testFleet()
	fleet[0].Battery = 0
	r := NewRegistry(fleet, nil)

	var seen []int
	r.Subscribe(func(d []Device) { seen = append(seen, d[0].Battery) })

	const writers = 90
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.UpdateEach([]string{"ipad"}, func(cur Device) Patch {
				next := cur.Battery + 1
				return Patch{Battery: &next}
			})
		}()
	}
	wg.Wait()

	require.NotEmpty(t, seen)
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i], seen[i-1], "delivery %d went backwards", i)
	}
	assert.Equal(t, writers, seen[len(seen)-1])
}

func TestWatchSeesEveryLaterChange(t *testing.T) {
	r := NewRegistry(testFleet(), nil)

	var got [][]Device
	r.Subscribe(func(d []Device) { got = append(got, d) })

	r.Watch(func(d []Device) {
		assert.Equal(t, StatusConnected, d[0].Status)
	})
	r.UpdateMany([]string{"ipad"}, SetStatus(StatusBusy))

	require.Len(t, got, 1)
	assert.Equal(t, StatusBusy, got[0][0].Status)
}
