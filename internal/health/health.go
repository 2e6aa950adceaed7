package health

import (
	"strings"
	"time"

	"github.com/JosineyJr/rdb25-dispatch/pkg/payments"
	jsoniter "github.com/json-iterator/go"
	"github.com/valyala/fasthttp"
)

var json = jsoniter.ConfigFastest

// unhealthyResponseTime is reported for a processor whose health could not be
// read. It is always paired with Failing=true.
const unhealthyResponseTime = 100000

var unhealthy = payments.ServiceHealth{Failing: true, MinResponseTime: unhealthyResponseTime}

// GetHealthStatus asks a processor for its health. A non-2xx status, a
// transport error or timeout, and an unreadable body are all reported the
// same way: failing, with a very large response time.
func GetHealthStatus(client *fasthttp.Client, baseURL string, timeout time.Duration) payments.ServiceHealth {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(strings.TrimRight(baseURL, "/") + "/payments/service-health")

	if err := client.DoTimeout(req, resp, timeout); err != nil {
		return unhealthy
	}

	if code := resp.StatusCode(); code < 200 || code >= 300 {
		return unhealthy
	}

	var health payments.ServiceHealth
	if err := json.Unmarshal(resp.Body(), &health); err != nil {
		return unhealthy
	}
	if health.MinResponseTime < 0 {
		health.MinResponseTime = 0
	}

	return health
}
