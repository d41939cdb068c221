package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"inzikt/internal/types"
)

// putTimeout bounds a single PutMetricData call. Metrics are best effort and
// must never hold up a tick or a job.
const putTimeout = 2 * time.Second

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatch emits each observation synchronously. Failures are logged and
// otherwise ignored.
type CloudWatch struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

func NewCloudWatch(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatch {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatch{client: client, namespace: namespace, logger: logger}
}

func (c *CloudWatch) RecordTick(outcome string, jobsRun int) {
	c.put(
		count(MetricSchedulerTick, 1, dim(DimOutcome, outcome)),
		count(MetricJobsRun, float64(jobsRun)),
	)
}

func (c *CloudWatch) RecordExecution(jobType string, status types.ExecutionStatus, d time.Duration) {
	dims := []cwtypes.Dimension{dim(DimJobType, jobType), dim(DimStatus, string(status))}
	c.put(
		count(MetricJobExecution, 1, dims...),
		millis(MetricJobDuration, d, dims...),
	)
}

func (c *CloudWatch) RecordAdhocJob(jobType string, status types.AdhocStatus, d time.Duration) {
	dims := []cwtypes.Dimension{dim(DimJobType, jobType), dim(DimStatus, string(status))}
	c.put(
		count(MetricAdhocJob, 1, dims...),
		millis(MetricAdhocJobDuration, d, dims...),
	)
}

func (c *CloudWatch) RecordRequest(method, endpoint, status string, d time.Duration) {
	c.put(
		count(MetricAPIRequestCount, 1, dim(DimMethod, method), dim(DimEndpoint, endpoint), dim(DimStatus, status)),
		millis(MetricAPILatency, d, dim(DimMethod, method), dim(DimEndpoint, endpoint)),
	)
}

func (c *CloudWatch) put(data ...cwtypes.MetricDatum) {
	ctx, cancel := context.WithTimeout(context.Background(), putTimeout)
	defer cancel()

	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(c.namespace),
		MetricData: data,
	}
	if _, err := c.client.PutMetricData(ctx, input); err != nil {
		c.logger.Error("failed to put metric data",
			"error", err.Error(),
			"metric", aws.ToString(data[0].MetricName),
		)
	}
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}

func count(name string, v float64, dims ...cwtypes.Dimension) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(v),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: dims,
	}
}

func millis(name string, d time.Duration, dims ...cwtypes.Dimension) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(float64(d.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
		Dimensions: dims,
	}
}
