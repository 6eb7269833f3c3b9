package session

import "github.com/ruanjf/nocobase-plugins/internal/utils"

// idBytes is the entropy of a session id (256 bits).
const idBytes = 32

// GenerateID returns a new random session ID.
func GenerateID() (string, error) {
	return utils.RandomString(idBytes), nil
}
