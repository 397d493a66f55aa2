package chat

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func plain(text string) ([]byte, error) {
	return []byte(text), nil
}

func fixedName(name string) func() string {
	return func() string { return name }
}

func drain(c *Client) []string {
	var out []string
	for {
		select {
		case p := <-c.Outbound():
			out = append(out, string(p))
		default:
			return out
		}
	}
}

func TestRegisterAssignsIdentity(t *testing.T) {
	h := NewHub()

	a := h.Register(plain)
	b := h.Register(plain)

	assert.NotEqual(t, a.ID, b.ID)
	assert.True(t, strings.HasPrefix(a.ID.String(), "client_"))
	assert.Len(t, strings.Fields(a.Name), 2, "display names are first and last name")
	assert.Equal(t, 2, h.Count())
}

func TestBroadcastReachesEveryone(t *testing.T) {
	h := NewHub(WithNames(fixedName("Taras Melnyk")))

	sender := h.Register(plain)
	other := h.Register(plain)

	reached := h.Broadcast(sender, "hello")
	assert.Equal(t, 2, reached)

	assert.Equal(t, []string{"Taras Melnyk: hello"}, drain(sender))
	assert.Equal(t, []string{"Taras Melnyk: hello"}, drain(other))
}

func TestBroadcastUsesRecipientEncoder(t *testing.T) {
	h := NewHub(WithNames(fixedName("Iryna Koval")))

	legacy := h.Register(plain)
	tagged := h.Register(func(text string) ([]byte, error) {
		return []byte("[" + text + "]"), nil
	})

	h.Broadcast(legacy, "hi")

	assert.Equal(t, []string{"Iryna Koval: hi"}, drain(legacy))
	assert.Equal(t, []string{"[Iryna Koval: hi]"}, drain(tagged))
}

func TestBroadcastSanitizes(t *testing.T) {
	h := NewHub(WithNames(fixedName("Mary Smith")))
	c := h.Register(plain)

	h.Broadcast(c, "<b>rates</b> & <i>more</i>")
	assert.Equal(t, []string{"Mary Smith: rates & more"}, drain(c))

	// Entity-encoded tags are stripped, not decoded into live markup
	h.Broadcast(c, "&lt;b&gt;bold&lt;/b&gt; text")
	assert.Equal(t, []string{"Mary Smith: bold text"}, drain(c))

	for _, text := range []string{
		"&lt;script&gt;alert(1)&lt;/script&gt;hi",
		"&amp;lt;script&amp;gt;alert(1)&amp;lt;/script&amp;gt;",
		"&#60;img src=x onerror=alert(1)&#62;",
		"1 < 2",
	} {
		h.Broadcast(c, text)
		got := drain(c)
		require.Len(t, got, 1, text)
		assert.NotContains(t, got[0], "<", text)
		assert.NotContains(t, got[0], ">", text)
	}
}

func TestSlowClientIsDropped(t *testing.T) {
	h := NewHub(WithBuffer(1), WithNames(fixedName("John Lee")))

	fast := h.Register(plain)
	slow := h.Register(plain)

	assert.Equal(t, 2, h.BroadcastLine("one"))
	drain(fast)

	// slow never drains and its single slot is taken
	assert.Equal(t, 1, h.BroadcastLine("two"))

	select {
	case <-slow.Dropped():
	default:
		t.Fatal("slow client should have been dropped")
	}
	assert.Equal(t, 1, h.Count())
	assert.False(t, slow.Enqueue([]byte("late")))
	assert.Equal(t, []string{"two"}, drain(fast))
}

func TestUnregister(t *testing.T) {
	h := NewHub()
	c := h.Register(plain)

	h.Unregister(c)
	assert.Equal(t, 0, h.Count())

	select {
	case <-c.Dropped():
	default:
		t.Fatal("unregistered client should be marked dropped")
	}

	assert.NotPanics(t, func() { h.Unregister(c) })
	assert.Equal(t, 0, h.BroadcastLine("nobody"))
}

func TestEncoderErrorSkipsClient(t *testing.T) {
	h := NewHub()
	bad := h.Register(func(string) ([]byte, error) { return nil, assert.AnError })
	good := h.Register(plain)

	assert.Equal(t, 1, h.BroadcastLine("x"))
	assert.Equal(t, 2, h.Count(), "encode failures do not drop the client")
	assert.Empty(t, drain(bad))
	require.Equal(t, []string{"x"}, drain(good))
}

func TestRandomName(t *testing.T) {
	for i := 0; i < 20; i++ {
		name := RandomName()
		parts := strings.Split(name, " ")
		require.Len(t, parts, 2)
		assert.Contains(t, firstNames, parts[0])
		assert.Contains(t, lastNames, parts[1])
	}
}

func TestClientSend(t *testing.T) {
	h := NewHub(WithBuffer(1))
	c := h.Register(plain)
	ctx := context.Background()

	require.NoError(t, c.Send(ctx, []byte("reply")))

	// Queue full: Send waits until the context gives up
	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Send(short, []byte("blocked")), context.DeadlineExceeded)

	assert.Equal(t, []string{"reply"}, drain(c))

	h.Unregister(c)
	assert.ErrorIs(t, c.Send(ctx, []byte("late")), ErrDropped)
}
