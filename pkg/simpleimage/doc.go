// Package simpleimage provides a reference-counted image asset store.
//
// Uploads are deduplicated by a BLAKE3 digest of their bytes. Every asset
// keeps the list of (entity type, entity id, field) triples that display it;
// removing the last one deletes the record and then destroys the remote
// object. Named transformations are derived by rewriting the delivery URL
// and are cached on the asset by name.
//
// The Service interface is the entry point. Repositories (memory, Postgres)
// and remote stores (memory, S3, Cloudinary) live in subpackages.
//
// Remote destroy is best effort. A failed destroy is logged and the local
// state change still happens, which can leave an orphaned remote object but
// never a record pointing at deleted bytes.
package simpleimage
