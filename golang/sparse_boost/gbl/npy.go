package gbl

import (
	"os"

	"github.com/pkg/errors"
	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
)

//ReadNpy reads the content of an npy file into a dense matrix.
func ReadNpy(filename string) (*mat.Dense, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", filename)
	}
	defer f.Close()

	r, err := npyio.NewReader(f)
	if err != nil {
		return nil, errors.Wrapf(err, "read npy header of %s", filename)
	}

	denseMat := &mat.Dense{}
	if err := r.Read(denseMat); err != nil {
		return nil, errors.Wrapf(err, "read npy data of %s", filename)
	}
	return denseMat, nil
}

//WriteNpy writes a dense matrix into an npy file.
func WriteNpy(filename string, m *mat.Dense) error {
	f, err := os.Create(filename)
	if err != nil {
		return errors.Wrapf(err, "create %s", filename)
	}
	defer f.Close()
	if err := npyio.Write(f, m); err != nil {
		return errors.Wrapf(err, "write npy data to %s", filename)
	}
	return nil
}

//ReadDMatrixNpy loads a dense npy matrix and converts it into the sparse
//training representation; NaN cells become missing values.
func ReadDMatrixNpy(filename string) (*DMatrix, error) {
	dense, err := ReadNpy(filename)
	if err != nil {
		return nil, err
	}
	return NewDMatrixFromDense(dense)
}
