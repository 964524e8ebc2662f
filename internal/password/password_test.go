// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-keycanary.
//
// go-keycanary is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package password

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClearPassword(t *testing.T) {
	tests := []struct {
		name    string
		input   []byte
		wantErr error
	}{
		{"valid", []byte("correct horse battery staple"), nil},
		{"single byte", []byte{0x01}, nil},
		{"empty", []byte{}, ErrEmptyPassword},
		{"nil", nil, ErrEmptyPassword},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewClearPassword(tt.input)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, p)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.input, p.Bytes())
		})
	}
}

func TestClearPasswordIsolation(t *testing.T) {
	input := []byte("secret")
	p, err := NewClearPassword(input)
	require.NoError(t, err)

	input[0] = 'X'
	out := p.Bytes()
	assert.Equal(t, []byte("secret"), out)

	out[0] = 'Y'
	s, err := p.String()
	require.NoError(t, err)
	assert.Equal(t, "secret", s)
}

func TestClearPasswordClear(t *testing.T) {
	p, err := NewClearPasswordFromString("secret")
	require.NoError(t, err)

	p.Clear()
	p.Clear()

	assert.Nil(t, p.Bytes())
	_, err = p.String()
	assert.ErrorIs(t, err, ErrPasswordZeroed)
	_, err = p.DeriveKey(bytes.Repeat([]byte{1}, SaltSize))
	assert.ErrorIs(t, err, ErrPasswordZeroed)
}

func TestDeriveKeyDeterministic(t *testing.T) {
	p, err := NewClearPasswordFromString("correct horse battery staple")
	require.NoError(t, err)

	salt := bytes.Repeat([]byte{0xA5}, SaltSize)
	k1, err := p.DeriveKey(salt)
	require.NoError(t, err)
	k2, err := p.DeriveKey(bytes.Clone(salt))
	require.NoError(t, err)

	assert.Len(t, k1, KeySize)
	assert.Equal(t, k1, k2)

	other := bytes.Repeat([]byte{0x5A}, SaltSize)
	k3, err := p.DeriveKey(other)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)
}

func TestDeriveKeyRequiresSalt(t *testing.T) {
	p, err := NewClearPasswordFromString("pw")
	require.NoError(t, err)

	_, err = p.DeriveKey(nil)
	assert.ErrorIs(t, err, ErrEmptySalt)
}

func TestEqual(t *testing.T) {
	a, _ := NewClearPasswordFromString("same")
	b, _ := NewClearPasswordFromString("same")
	c, _ := NewClearPasswordFromString("different")

	eq, err := Equal(a, b)
	require.NoError(t, err)
	assert.True(t, eq)

	eq, err = Equal(a, c)
	require.NoError(t, err)
	assert.False(t, eq)

	c.Clear()
	_, err = Equal(a, c)
	assert.ErrorIs(t, err, ErrPasswordZeroed)
}
