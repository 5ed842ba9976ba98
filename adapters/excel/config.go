package excel

// Config holds configuration for a file data source
type Config struct {
	FilePath string `json:"file_path" validate:"required"`
	// Name is the dataset name; the file name without extension when empty
	Name string `json:"name"`
	// Sheet defaults to the first sheet of an XLSX workbook
	Sheet string `json:"sheet"`
	// Delimiter applies to CSV only; comma when zero
	Delimiter rune `json:"delimiter"`
}
