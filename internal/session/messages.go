package session

import "quotegate/internal/identity"

const genericErrorMessage = "An error occurred. Please try again."

var errorMessages = map[string]string{
	identity.CodeUserNotFound:         "No account found with this email address.",
	identity.CodeWrongPassword:        "Incorrect password. Please try again.",
	identity.CodeInvalidEmail:         "Please enter a valid email address.",
	identity.CodeWeakPassword:         "Password should be at least 6 characters long.",
	identity.CodeEmailAlreadyInUse:    "An account with this email already exists.",
	identity.CodeTooManyRequests:      "Too many failed attempts. Please try again later.",
	identity.CodeNetworkRequestFailed: "Network error. Please check your connection.",
	identity.CodeUserDisabled:         "This account has been disabled.",
	identity.CodeOperationNotAllowed:  "This operation is not allowed.",
	identity.CodeInvalidCredential:    "Invalid credentials. Please check your email and password.",
}

// ErrorMessage maps a provider code to the text shown to users. Unknown
// codes get a generic sentence; raw codes are never returned.
func ErrorMessage(code string) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}
	return genericErrorMessage
}

// MessageFor translates any provider error.
func MessageFor(err error) string {
	return ErrorMessage(identity.Code(err))
}
