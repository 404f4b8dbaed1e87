package netstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pawtrack/netguard/domain"
)

func TestDefaultsToConnected(t *testing.T) {
	m := NewMonitor()
	assert.True(t, m.Current().Connected)
}

func TestSetUpdatesCurrent(t *testing.T) {
	m := NewMonitor()

	m.Set(domain.NetworkState{Connected: false, Type: "none"})
	assert.False(t, m.Current().Connected)

	m.Set(domain.NetworkState{Connected: true, Type: "wifi", Reachable: true})
	got := m.Current()
	assert.True(t, got.Connected)
	assert.Equal(t, "wifi", got.Type)
}

func TestSubscribeReceivesChanges(t *testing.T) {
	m := NewMonitor()
	ch, unsub := m.Subscribe()
	defer unsub()

	m.Set(domain.NetworkState{Connected: false, Type: "none"})

	select {
	case got := <-ch:
		assert.False(t, got.Connected)
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered")
	}
}

func TestSlowSubscriberGetsLatest(t *testing.T) {
	m := NewMonitor()
	ch, unsub := m.Subscribe()
	defer unsub()

	// Nobody draining: the buffered slot should end up holding the
	// newest snapshot, not the first one.
	m.Set(domain.NetworkState{Connected: false, Type: "none"})
	m.Set(domain.NetworkState{Connected: true, Type: "cellular"})
	m.Set(domain.NetworkState{Connected: true, Type: "wifi"})

	select {
	case got := <-ch:
		assert.Equal(t, "wifi", got.Type)
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	m := NewMonitor()
	ch, unsub := m.Subscribe()

	unsub()
	_, ok := <-ch
	assert.False(t, ok, "channel must be closed after unsubscribe")

	// Unsubscribing twice is safe, and Set must not panic afterwards.
	unsub()
	m.Set(domain.NetworkState{Connected: true})
}

func TestMultipleSubscribers(t *testing.T) {
	m := NewMonitor()
	ch1, unsub1 := m.Subscribe()
	ch2, unsub2 := m.Subscribe()
	defer unsub1()
	defer unsub2()

	m.Set(domain.NetworkState{Connected: false})

	for _, ch := range []<-chan domain.NetworkState{ch1, ch2} {
		select {
		case got := <-ch:
			require.False(t, got.Connected)
		case <-time.After(time.Second):
			t.Fatal("subscriber missed the snapshot")
		}
	}
}
