// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ab

import (
	"crypto/sha256"
	"math/big"
)

// BucketCount is the number of percentage buckets users are hashed into.
const BucketCount = 100

var bucketModulus = big.NewInt(BucketCount)

// Bucket maps a user identifier to a bucket in [0, BucketCount).
//
// Description:
//
//	The SHA-256 digest of userID is read as a big-endian unsigned integer
//	and reduced modulo BucketCount. The result depends only on userID, so
//	the same user lands in the same bucket for every experiment.
//
// Thread Safety: Safe for concurrent use (stateless).
func Bucket(userID string) int {
	sum := sha256.Sum256([]byte(userID))
	n := new(big.Int).SetBytes(sum[:])
	return int(n.Mod(n, bucketModulus).Int64())
}

// pickVariant walks the cumulative distribution in declared order and
// returns the index of the first variant whose cumulative weight exceeds
// bucket. Rounding can leave the final cumulative sum a hair under 100, in
// which case the last variant wins.
func pickVariant(distribution []float64, bucket int) int {
	value := float64(bucket)
	cumulative := 0.0
	for i, w := range distribution {
		cumulative += w * BucketCount
		if value < cumulative {
			return i
		}
	}
	return len(distribution) - 1
}
