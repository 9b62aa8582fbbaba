package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifier_RoundTrip(t *testing.T) {
	v := NewVerifier("s3cret", "roomline")
	tok, err := v.Issue(Identity{ID: "u1", DisplayName: "Aki", AvatarURL: "https://x/a.png"}, time.Hour)
	require.NoError(t, err)

	id, err := v.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, &Identity{ID: "u1", DisplayName: "Aki", AvatarURL: "https://x/a.png"}, id)
}

func TestVerifier_Rejects(t *testing.T) {
	v := NewVerifier("s3cret", "roomline")

	t.Run("expired", func(t *testing.T) {
		tok, err := v.Issue(Identity{ID: "u1"}, -time.Minute)
		require.NoError(t, err)
		_, err = v.Verify(tok)
		assert.ErrorIs(t, err, ErrExpiredToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		tok, err := NewVerifier("other", "roomline").Issue(Identity{ID: "u1"}, time.Hour)
		require.NoError(t, err)
		_, err = v.Verify(tok)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		tok, err := NewVerifier("s3cret", "elsewhere").Issue(Identity{ID: "u1"}, time.Hour)
		require.NoError(t, err)
		_, err = v.Verify(tok)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("no secret", func(t *testing.T) {
		_, err := NewVerifier("", "").Verify("x.y.z")
		assert.ErrorIs(t, err, ErrNoSecret)
	})
}

func TestProvider_AuthStateStream(t *testing.T) {
	v := NewVerifier("s3cret", "")
	p := NewProvider(v)

	var seen []*Identity
	cancel := p.OnAuthStateChanged(func(id *Identity) { seen = append(seen, id) })

	require.Len(t, seen, 1)
	assert.Nil(t, seen[0])

	tok, err := v.Issue(Identity{ID: "u1", DisplayName: "Aki"}, time.Hour)
	require.NoError(t, err)
	_, err = p.SignIn(tok)
	require.NoError(t, err)

	require.Len(t, seen, 2)
	assert.Equal(t, "u1", seen[1].ID)
	assert.Equal(t, "u1", p.Current().ID)

	p.SignOut()
	require.Len(t, seen, 3)
	assert.Nil(t, seen[2])

	cancel()
	_, err = p.SignIn(tok)
	require.NoError(t, err)
	assert.Len(t, seen, 3)
}
