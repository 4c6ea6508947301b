// Package secure keeps credential material out of plain Go memory.
//
// Backends that read credentials from a keyring entry or a file hold the
// bytes in a memguard enclave until the vendor client is built:
//
//	cred, err := secure.NewCredential("keyring:cloudsecrets/prod", raw)
//	if err != nil {
//	    return err
//	}
//	defer cred.Destroy()
//
//	err = cred.Use(func(plaintext []byte) error {
//	    return json.Unmarshal(plaintext, &keys)
//	})
//
// The enclave is encrypted with XSalsa20Poly1305 and the plaintext exists
// only in mlocked memory for the duration of Use. On Linux mlock requires
// RLIMIT_MEMLOCK to be large enough.
//
// This does not protect against an attacker with access to the running
// process, or against whatever copy the vendor SDK keeps after the client
// is built.
package secure
