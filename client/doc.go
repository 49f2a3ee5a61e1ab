// Package client produces encrypted model updates.
//
// A Producer takes the update vector for (round, client) from a
// VectorSource, serializes it canonically together with its metadata, seals
// it to the aggregator's public key under the round/client/size associated
// data and returns the resulting protocol.EncryptedPackage. Submit also
// writes the package into a storage.PackageStore.
package client
