package settings

// Secret is a string holding a sensitive value.
type Secret string

const maskedSecret = "*****"

// String implements fmt.Stringer.String.
// When a Secret is printed, it's masking the underlying string with asterisks.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return maskedSecret
}
