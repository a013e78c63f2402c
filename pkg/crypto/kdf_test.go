package crypto

import (
	"bytes"
	"testing"
)

func TestDeriveKeyArgon2id(t *testing.T) {
	params := FastArgon2Params()
	salt := bytes.Repeat([]byte{0xA5}, 16)

	key1, err := DeriveKeyArgon2id([]byte("passphrase"), salt, params)
	if err != nil {
		t.Fatalf("derive key: %v", err)
	}
	key2, err := DeriveKeyArgon2id([]byte("passphrase"), salt, params)
	if err != nil {
		t.Fatalf("derive key again: %v", err)
	}
	if !bytes.Equal(key1, key2) || len(key1) != 32 {
		t.Fatalf("expected a deterministic 32 byte key")
	}

	if _, err := DeriveKeyArgon2id([]byte("passphrase"), []byte("short"), params); err == nil {
		t.Fatal("expected error when salt is too short")
	}
}

func TestArgon2ParametersValidate(t *testing.T) {
	cases := map[string]struct {
		params Argon2Parameters
		valid  bool
	}{
		"default":      {DefaultArgon2Params(), true},
		"fast":         {FastArgon2Params(), true},
		"zero time":    {Argon2Parameters{Memory: 64, Threads: 1, KeyLength: 32}, false},
		"zero threads": {Argon2Parameters{Time: 1, Memory: 64, KeyLength: 32}, false},
		"low memory":   {Argon2Parameters{Time: 1, Memory: 16, Threads: 4, KeyLength: 32}, false},
		"key length":   {Argon2Parameters{Time: 1, Memory: 64, Threads: 1, KeyLength: 48}, false},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := tc.params.Validate()
			if tc.valid != (err == nil) {
				t.Fatalf("valid=%v, got err %v", tc.valid, err)
			}
		})
	}
}
