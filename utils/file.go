package utils

import (
	"io"
	"mime/multipart"

	"github.com/rotisserie/eris"
)

// ReadFormFile reads an uploaded multipart file fully into memory.
func ReadFormFile(fileHeader *multipart.FileHeader) ([]byte, error) {
	file, err := fileHeader.Open()
	if err != nil {
		return nil, eris.Wrap(err, "failed to open file")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, eris.Wrap(err, "failed to read file")
	}
	return data, nil
}
