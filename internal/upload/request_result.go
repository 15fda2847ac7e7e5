package upload

import "fmt"

// RequestResult classifies a single HTTP exchange with an upload target.
type RequestResult int

const (
	RequestSuccess RequestResult = iota
	RequestFailure
	RequestConfigurationError
	RequestInvalidAPIKey
	RequestConnectionError
	RequestServerError
	RequestLimitExceeded
)

func (r RequestResult) String() string {
	switch r {
	case RequestSuccess:
		return "success"
	case RequestFailure:
		return "failure"
	case RequestConfigurationError:
		return "configuration_error"
	case RequestInvalidAPIKey:
		return "invalid_api_key"
	case RequestConnectionError:
		return "connection_error"
	case RequestServerError:
		return "server_error"
	case RequestLimitExceeded:
		return "limit_exceeded"
	default:
		return fmt.Sprintf("RequestResult(%d)", int(r))
	}
}

// UploadResult lifts a request classification into the pipeline taxonomy.
// Values outside the enum are a programming error and panic.
func (r RequestResult) UploadResult() Result {
	switch r {
	case RequestSuccess:
		return ResultSuccess
	case RequestFailure:
		return ResultFailure
	case RequestConfigurationError:
		return ResultInvalidData
	case RequestInvalidAPIKey:
		return ResultInvalidAPIKey
	case RequestConnectionError:
		return ResultConnectionError
	case RequestServerError:
		return ResultServerError
	case RequestLimitExceeded:
		return ResultLimitExceeded
	default:
		panic(fmt.Sprintf("upload: no upload result for request result %d", int(r)))
	}
}
