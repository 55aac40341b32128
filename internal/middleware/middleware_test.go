package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// collectCounter reads the current value from a CounterVec for the given label values.
// Returns 0 if no matching series has been observed yet.
func collectCounter(cv *prometheus.CounterVec, labels prometheus.Labels) float64 {
	c, err := cv.GetMetricWith(labels)
	if err != nil {
		return 0
	}
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

// withUser stores a session user the way SessionMiddleware does.
func withUser(id int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(UserIDKey, id)
		c.Next()
	}
}
