//go:build !unix

package fatfs

import "github.com/spf13/afero"

func lockImage(afero.File) (func() error, error) {
	return func() error { return nil }, nil
}
