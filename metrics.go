package cloudaws

import "github.com/prometheus/client_golang/prometheus"

const metricsNamespace = "cloudaws"

// Metrics collects listener and upload counters.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	messagesReceived *prometheus.CounterVec
	messagesHandled  *prometheus.CounterVec
	messagesFailed   *prometheus.CounterVec
	messagesDeleted  *prometheus.CounterVec
	receiveErrors    *prometheus.CounterVec
	inFlight         *prometheus.GaugeVec

	partsUploaded      prometheus.Counter
	partBytes          prometheus.Counter
	simpleUploads      prometheus.Counter
	multipartCompleted prometheus.Counter
	multipartAborted   prometheus.Counter
	abortFailures      prometheus.Counter
}

// NewMetrics creates metrics and registers them to reg when reg is not nil
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "listener",
			Name:      "messages_received_total",
			Help:      "Number of messages received from queues.",
		}, []string{"queue"}),
		messagesHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "listener",
			Name:      "messages_handled_total",
			Help:      "Number of messages handled successfully.",
		}, []string{"queue"}),
		messagesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "listener",
			Name:      "messages_failed_total",
			Help:      "Number of messages whose handler returned an error or panicked.",
		}, []string{"queue"}),
		messagesDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "listener",
			Name:      "messages_deleted_total",
			Help:      "Number of messages deleted after handling.",
		}, []string{"queue"}),
		receiveErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "listener",
			Name:      "receive_errors_total",
			Help:      "Number of failed receive calls.",
		}, []string{"queue"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "listener",
			Name:      "in_flight_messages",
			Help:      "Number of messages currently being handled.",
		}, []string{"queue"}),
		partsUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "upload",
			Name:      "parts_total",
			Help:      "Number of multipart parts uploaded.",
		}),
		partBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "upload",
			Name:      "part_bytes_total",
			Help:      "Number of bytes uploaded as multipart parts.",
		}),
		simpleUploads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "upload",
			Name:      "simple_total",
			Help:      "Number of objects stored with a single put.",
		}),
		multipartCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "upload",
			Name:      "multipart_completed_total",
			Help:      "Number of completed multipart uploads.",
		}),
		multipartAborted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "upload",
			Name:      "multipart_aborted_total",
			Help:      "Number of aborted multipart uploads.",
		}),
		abortFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "upload",
			Name:      "multipart_abort_failures_total",
			Help:      "Number of multipart uploads that could not be aborted.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.messagesReceived,
			m.messagesHandled,
			m.messagesFailed,
			m.messagesDeleted,
			m.receiveErrors,
			m.inFlight,
			m.partsUploaded,
			m.partBytes,
			m.simpleUploads,
			m.multipartCompleted,
			m.multipartAborted,
			m.abortFailures,
		)
	}
	return m
}

func (m *Metrics) MessagesReceived(queue string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.messagesReceived.WithLabelValues(queue).Add(float64(n))
}

func (m *Metrics) MessageHandled(queue string) {
	if m == nil {
		return
	}
	m.messagesHandled.WithLabelValues(queue).Inc()
}

func (m *Metrics) MessageFailed(queue string) {
	if m == nil {
		return
	}
	m.messagesFailed.WithLabelValues(queue).Inc()
}

func (m *Metrics) MessageDeleted(queue string) {
	if m == nil {
		return
	}
	m.messagesDeleted.WithLabelValues(queue).Inc()
}

func (m *Metrics) ReceiveError(queue string) {
	if m == nil {
		return
	}
	m.receiveErrors.WithLabelValues(queue).Inc()
}

// InFlight adjusts the in-flight gauge of queue by delta
func (m *Metrics) InFlight(queue string, delta int) {
	if m == nil {
		return
	}
	m.inFlight.WithLabelValues(queue).Add(float64(delta))
}

func (m *Metrics) PartUploaded(size int64) {
	if m == nil {
		return
	}
	m.partsUploaded.Inc()
	m.partBytes.Add(float64(size))
}

func (m *Metrics) SimpleUpload() {
	if m == nil {
		return
	}
	m.simpleUploads.Inc()
}

func (m *Metrics) MultipartCompleted() {
	if m == nil {
		return
	}
	m.multipartCompleted.Inc()
}

func (m *Metrics) MultipartAborted() {
	if m == nil {
		return
	}
	m.multipartAborted.Inc()
}

// MultipartAbortFailed counts an upload left pending because AbortMultipartUpload failed
func (m *Metrics) MultipartAbortFailed() {
	if m == nil {
		return
	}
	m.abortFailures.Inc()
}
