package dlq_test

import "github.com/oceanlab/specimen-stack/common/failure"

var errMalformed = failure.Malformedf("unmarshal submission envelope: invalid character 'o'")
