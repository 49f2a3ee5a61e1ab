/*
Package testutil provides test data generators for the secagg packages.

# Cryptographic Generators

	// Generate an aggregator key pair
	kp, _ := testutil.GenerateTestKeyPair()

	// Flip one bit of a ciphertext
	tampered := testutil.FlipBit(pkg.Ciphertext, 7)

# Package Generators

GenerateTestPackage seals an update exactly as a client would. Options
customize it or produce the inconsistent packages aggregation has to reject:

	pkg, _ := testutil.GenerateTestPackage(kp.Public,
	    testutil.WithRound(3),
	    testutil.WithClientID("c2"),
	    testutil.WithData([]float32{0, 1, 0, 0}),
	)

	// Encrypted under associated data for another round
	replayed, _ := testutil.GenerateTestPackage(kp.Public,
	    testutil.WithAAD(protocol.BuildAAD(2, "c2", 4)),
	)

This package is intended for testing purposes only and should not be used in
production code.
*/
package testutil
