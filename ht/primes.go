package ht

// bucketPrimes is a small table of primes used to size the bucket array,
// each roughly double the previous, in the spirit of classic hash-table
// growth tables.
var bucketPrimes = []int{
	11, 23, 47, 97, 197, 397, 797, 1597, 3203, 6421,
	12853, 25717, 51437, 102877, 205759, 411527, 823117,
	1646237, 3292489, 6584983, 13169977, 26339969,
}

// primeAtLeast returns the smallest bundled prime >= n, or the largest
// bundled prime if n exceeds the table. A Table's bucket count is fixed
// when New sizes it; nothing rehashes.
func primeAtLeast(n int) int {
	for _, p := range bucketPrimes {
		if p >= n {
			return p
		}
	}
	return bucketPrimes[len(bucketPrimes)-1]
}
