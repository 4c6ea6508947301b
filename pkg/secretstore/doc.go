// Package secretstore defines the contract every cloudsecrets backend
// implements, together with the payload codec they share.
//
// # Model
//
// A Secret Resource is an upstream container (a GCP secret, an AWS secret or
// parameter, a Key Vault secret, a database row set, a local file, or the
// process environment). Each version of the resource holds a payload: a
// mapping of application keys to values.
//
// Upstream, a payload is a JSON object whose values are base64 encoded:
//
//	{
//	  "MYSECRET": "VkFMVUU=",
//	  "creds.json": "eyJibG9iIjogImhlcmUifQ=="
//	}
//
// In memory the store exposes the decoded mapping:
//
//	value, ok := store.Get("MYSECRET") // "VALUE", true
//
// # Versions
//
// Cloud and database backends assign version tokens upstream and keep every
// version immutable. The env and file backends keep a local counter that
// starts at "1" and moves forward on every mutating call.
//
// Every Set, Unset and Update rewrites the full payload as a new version;
// there are no partial upstream updates.
//
//	if err := store.Set(ctx, "API_KEY", "abc123"); err != nil {
//	    return err
//	}
//	if err := store.Rollback(ctx, secretstore.Relative(-1)); err != nil {
//	    return err
//	}
//
// # Errors
//
//   - NotFoundError: the resource is missing and creation was disabled
//   - *FetchError: loading a version failed; the cache is unchanged
//   - *OperationError: a commit, list or delete call failed upstream
//   - ErrVersionOutOfRange: a rollback target does not exist
//   - ErrClosed: the store has been closed
//
// Never log decoded values. Use logging.Secret when a value must appear in a
// format string.
package secretstore
