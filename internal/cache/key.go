package cache

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"golang.org/x/crypto/blake2b"
)

// keySeparator cannot appear in hex digests or provider:model identifiers.
const keySeparator = "\x1f"

// Key identifies one analysis. Two analyses are interchangeable only when
// all five factors match.
type Key struct {
	ContentHash   string
	ModelID       string
	PromptHash    string
	SchemaVersion int
	ConfigHash    string
}

// Digest returns the stored primary key: BLAKE2b-256 over the joined factors.
func (k Key) Digest() string {
	joined := strings.Join([]string{
		k.ContentHash,
		k.ModelID,
		k.PromptHash,
		strconv.Itoa(k.SchemaVersion),
		k.ConfigHash,
	}, keySeparator)
	return HashBytes([]byte(joined))
}

// SettingsDigest hashes every factor except the content hash. Work done
// under one settings digest is not reusable under another.
func (k Key) SettingsDigest() string {
	joined := strings.Join([]string{
		k.ModelID,
		k.PromptHash,
		strconv.Itoa(k.SchemaVersion),
		k.ConfigHash,
	}, keySeparator)
	return HashBytes([]byte(joined))
}

// Validate reports a missing factor.
func (k Key) Validate() error {
	switch {
	case k.ContentHash == "":
		return fmt.Errorf("cache key: content hash is empty")
	case k.ModelID == "":
		return fmt.Errorf("cache key: model id is empty")
	case k.PromptHash == "":
		return fmt.Errorf("cache key: prompt hash is empty")
	case k.ConfigHash == "":
		return fmt.Errorf("cache key: config hash is empty")
	}
	return nil
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s/v%d/%s", short(k.ContentHash), k.ModelID, short(k.PromptHash), k.SchemaVersion, short(k.ConfigHash))
}

// HashBytes returns the hex BLAKE2b-256 digest of b.
func HashBytes(b []byte) string {
	sum := blake2b.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// HashContent hashes file content for the first key factor.
func HashContent(content []byte) string {
	return HashBytes(content)
}

// HashConfig hashes the TOML serialization of the analysis settings that
// influence output. v must be a struct or map.
func HashConfig(v any) (string, error) {
	b, err := toml.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("serializing analysis config: %w", err)
	}
	return HashBytes(b), nil
}

func short(s string) string {
	if len(s) > 12 {
		return s[:12]
	}
	return s
}
