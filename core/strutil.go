package core

import "strconv"

// itoa converts an integer to a string without using fmt package
func itoa(n int) string {
	if n == 0 {
		return "0"
	}

	negative := n < 0
	if negative {
		n = -n
	}

	// Count digits
	temp := n
	digits := 0
	for temp > 0 {
		digits++
		temp /= 10
	}

	if negative {
		digits++
	}

	// Build string from right to left
	buf := make([]byte, digits)
	pos := digits - 1

	for n > 0 {
		buf[pos] = byte('0' + n%10)
		n /= 10
		pos--
	}

	if negative {
		buf[0] = '-'
	}

	return string(buf)
}

// utoa converts an unsigned integer to a string
func utoa(n uint32) string {
	return strconv.FormatUint(uint64(n), 10)
}

// ftoa formats a float with three decimals
func ftoa(f float32) string {
	return strconv.FormatFloat(float64(f), 'f', 3, 32)
}
