package redis

import "fmt"

const (
	// KeyPrefixSession is the prefix for session keys
	KeyPrefixSession = "stackpilot:session:"
	// KeyPrefixOperation is the prefix for operation keys
	KeyPrefixOperation = "stackpilot:op:"
	// KeyPrefixServiceOperations is the prefix for per-service operation indexes
	KeyPrefixServiceOperations = "stackpilot:ops:svc:"
	// KeyAllOperations is the sorted set of all operation IDs by creation time
	KeyAllOperations = "stackpilot:ops:all"
	// KeyPrefixBackup is the prefix for backup record keys
	KeyPrefixBackup = "stackpilot:backup:"
	// KeyAllBackups is the set of all backup IDs
	KeyAllBackups = "stackpilot:backups:all"
	// KeyPrefixUnit is the prefix for persisted unit state keys
	KeyPrefixUnit = "stackpilot:unit:"
	// KeyAllUnits is the set of all unit IDs with persisted state
	KeyAllUnits = "stackpilot:units:all"
	// KeySlots holds the active/standby slot pair
	KeySlots = "stackpilot:slots"
	// KeyAuditStream is the audit log stream
	KeyAuditStream = "stackpilot:audit"
)

// SessionKey returns the Redis key for a session token
func SessionKey(token string) string {
	return KeyPrefixSession + token
}

// OperationKey returns the Redis key for an operation by ID
func OperationKey(id string) string {
	return KeyPrefixOperation + id
}

// ServiceOperationsKey returns the sorted set indexing one service's operations
func ServiceOperationsKey(serviceID string) string {
	return KeyPrefixServiceOperations + serviceID
}

// BackupKey returns the Redis key for a backup record
func BackupKey(id string) string {
	return KeyPrefixBackup + id
}

// UnitKey returns the Redis key for a unit's persisted state
func UnitKey(id string) string {
	return KeyPrefixUnit + id
}

// ExtractSessionToken extracts the token from a session key
func ExtractSessionToken(key string) (string, error) {
	if len(key) <= len(KeyPrefixSession) {
		return "", fmt.Errorf("invalid session key: %s", key)
	}
	return key[len(KeyPrefixSession):], nil
}
