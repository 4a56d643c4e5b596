package model

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"
)

type IDType string

const (
	IDTypeOrder IDType = "ord"
	IDTypeTask  IDType = "task"
)

var validIDTypes = map[IDType]bool{
	IDTypeOrder: true,
	IDTypeTask:  true,
}

var idRegex = regexp.MustCompile(`^(ord|task)_[0-9]{10}_[0-9a-f]{8}$`)

// GenerateID returns an id of the form <type>_<unix-seconds>_<random-hex>.
// The random suffix comes from crypto/rand.
func GenerateID(idType IDType) (string, error) {
	if !validIDTypes[idType] {
		return "", fmt.Errorf("invalid ID type: %s", idType)
	}

	timestamp := time.Now().Unix()
	randomBytes := make([]byte, 4)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("generate random bytes: %w", err)
	}
	hexStr := hex.EncodeToString(randomBytes)

	return fmt.Sprintf("%s_%010d_%s", idType, timestamp, hexStr), nil
}

func ValidateID(id string) bool {
	return idRegex.MatchString(id)
}

func ParseIDType(id string) (IDType, error) {
	if !ValidateID(id) {
		return "", fmt.Errorf("invalid ID format: %s", id)
	}
	match := idRegex.FindStringSubmatch(id)
	return IDType(match[1]), nil
}

func ParseIDTimestamp(id string) (time.Time, error) {
	if !ValidateID(id) {
		return time.Time{}, fmt.Errorf("invalid ID format: %s", id)
	}
	tsStr := id[len(id)-19 : len(id)-9]
	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp from ID %s: %w", id, err)
	}
	return time.Unix(ts, 0), nil
}

// IDRegistry is a concurrent set of claimed ids, scoped to one commander
// instance. It backs the collision check at order creation.
type IDRegistry struct {
	mu   sync.Mutex
	used map[string]struct{}
}

func NewIDRegistry() *IDRegistry {
	return &IDRegistry{used: make(map[string]struct{})}
}

// Claim records id as used. It returns false if the id was already claimed.
func (r *IDRegistry) Claim(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.used[id]; ok {
		return false
	}
	r.used[id] = struct{}{}
	return true
}

func (r *IDRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.used)
}
