package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/sells-group/registry-ingest/internal/model"
)

// ContentHash is the idempotency key for raw payload bytes.
func ContentHash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// canonicalHash fingerprints the normalized envelope. Only payload-derived
// meta participates so byte-identical input always hashes identically;
// json.Marshal sorts map keys at every level, which makes the serialization
// deterministic.
func canonicalHash(meta model.DocumentMeta, data map[string]any) string {
	hashedMeta := map[string]any{}
	if meta.RegistryCode != "" {
		hashedMeta["registry_code"] = meta.RegistryCode
	}
	if meta.ServiceCode != "" {
		hashedMeta["service_code"] = meta.ServiceCode
	}
	if meta.MethodCode != "" {
		hashedMeta["method_code"] = meta.MethodCode
	}
	if meta.RequestID != "" {
		hashedMeta["request_id"] = meta.RequestID
	}
	if meta.UserID != "" {
		hashedMeta["user_id"] = meta.UserID
	}
	envelope := map[string]any{"meta": hashedMeta, "data": data}
	b, err := json.Marshal(envelope)
	if err != nil {
		// The envelope is maps, slices and scalars; marshal cannot fail on it.
		return ContentHash([]byte("unhashable"))
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
