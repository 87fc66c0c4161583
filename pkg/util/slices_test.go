package util_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/busboard/busboard/pkg/util"
)

func TestFilterInPlace(t *testing.T) {
	numbers := []int{1, 2, 3, 4, 5}

	even := util.FilterInPlace(numbers, func(n int) bool { return n%2 == 0 })
	assert.Equal(t, []int{2, 4}, even)

	none := util.FilterInPlace(even, func(n int) bool { return false })
	assert.Empty(t, none)
}
