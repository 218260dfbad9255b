// Package credentials loads device key material into a bounded buffer.
//
// The Buffer is fixed-capacity and owned by exactly one component (the
// session manager). Load fills it from a storage.Store with all-or-nothing
// semantics: either the whole resource is copied or the buffer is left as it
// was.
//
// # Usage
//
//	buf := credentials.NewBuffer(cfg.Credentials.BufferSize)
//	n, err := credentials.Load(ctx, store, storage.ClassCertificate, "ec_private.pem", buf)
//	if errors.Is(err, credentials.ErrResourceNotFound) {
//	    fmt.Fprintln(os.Stderr, credentials.Guidance("ec_private.pem"))
//	}
//
// Watch reports changes to a key file so a running device can pick up a
// rotated key without restarting.
package credentials
