package apihttp

import (
	"errors"
	"fmt"
)

var errInvalidHours = errors.New("hours must be a positive integer")

func errInvalidFloat(key string) error {
	return fmt.Errorf("%s must be a number", key)
}
