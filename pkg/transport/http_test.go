package transport_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/relaykit/hubsink/pkg/transport"
)

func TestTransport(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Transport Suite")
}

var _ = Describe("HTTPSender", func() {
	var (
		cfg    transport.HTTPConfig
		client *transport.MockHTTPClient
	)

	BeforeEach(func() {
		cfg = transport.HTTPConfig{
			Endpoint:  "https://ns.hub.example.net",
			Hub:       "telemetry",
			Publisher: "edge-7",
			Token:     "SharedAccessSignature sr=test",
		}
		client = transport.NewMockHTTPClient()
	})

	Context("when constructing", func() {
		It("should resolve the messages resource URL", func() {
			sender, err := transport.NewHTTPSender(cfg, transport.WithHTTPClient(client))
			Expect(err).NotTo(HaveOccurred())
			Expect(sender.URL()).To(Equal("https://ns.hub.example.net/telemetry/publishers/edge-7/messages"))
		})

		It("should trim a trailing slash off the endpoint", func() {
			cfg.Endpoint = "https://ns.hub.example.net/"
			sender, err := transport.NewHTTPSender(cfg, transport.WithHTTPClient(client))
			Expect(err).NotTo(HaveOccurred())
			Expect(sender.URL()).To(Equal("https://ns.hub.example.net/telemetry/publishers/edge-7/messages"))
		})

		It("should reject a missing endpoint", func() {
			cfg.Endpoint = ""
			_, err := transport.NewHTTPSender(cfg)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("endpoint"))
		})

		It("should reject a missing hub name", func() {
			cfg.Hub = ""
			_, err := transport.NewHTTPSender(cfg)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("hub name"))
		})

		It("should reject a missing publisher identity", func() {
			cfg.Publisher = ""
			_, err := transport.NewHTTPSender(cfg)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("publisher"))
		})

		It("should reject a missing credential", func() {
			cfg.Token = ""
			_, err := transport.NewHTTPSender(cfg)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("credential"))
		})
	})

	Context("when sending", func() {
		It("should post the body with credential and content type headers", func() {
			sender, err := transport.NewHTTPSender(cfg, transport.WithHTTPClient(client))
			Expect(err).NotTo(HaveOccurred())

			err = sender.Send(context.Background(), []byte(`[{"message":"hi"}]`), transport.ContentTypeJSON)
			Expect(err).NotTo(HaveOccurred())

			requests := client.Requests()
			Expect(requests).To(HaveLen(1))
			Expect(requests[0].Method).To(Equal(http.MethodPost))
			Expect(requests[0].Header.Get("Authorization")).To(Equal("SharedAccessSignature sr=test"))
			Expect(requests[0].Header.Get("Content-Type")).To(Equal(transport.ContentTypeJSON))

			bodies := client.RequestBodies()
			Expect(bodies).To(HaveLen(1))
			Expect(string(bodies[0])).To(Equal(`[{"message":"hi"}]`))
		})

		It("should surface a non-success status as a StatusError", func() {
			client.SetResponse("/telemetry/publishers/edge-7/messages", transport.MockResponse{
				StatusCode: http.StatusServiceUnavailable,
				Body:       "server busy",
			})
			sender, err := transport.NewHTTPSender(cfg, transport.WithHTTPClient(client))
			Expect(err).NotTo(HaveOccurred())

			err = sender.Send(context.Background(), []byte(`[]`), transport.ContentTypeJSON)
			Expect(err).To(HaveOccurred())
			Expect(transport.IsStatus(err, http.StatusServiceUnavailable)).To(BeTrue())

			var statusErr *transport.StatusError
			Expect(errors.As(err, &statusErr)).To(BeTrue())
			Expect(statusErr.Reason).To(Equal("server busy"))
		})

		It("should wrap client failures", func() {
			client.SetResponse("/telemetry/publishers/edge-7/messages", transport.MockResponse{
				Error: errors.New("connection refused"),
			})
			sender, err := transport.NewHTTPSender(cfg, transport.WithHTTPClient(client))
			Expect(err).NotTo(HaveOccurred())

			err = sender.Send(context.Background(), []byte(`[]`), transport.ContentTypeJSON)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("connection refused"))
			Expect(transport.IsStatus(err, http.StatusServiceUnavailable)).To(BeFalse())
		})

		It("should honor context cancellation during a slow response", func() {
			client.SetResponse("/telemetry/publishers/edge-7/messages", transport.MockResponse{
				StatusCode: http.StatusCreated,
				Delay:      200 * time.Millisecond,
			})
			sender, err := transport.NewHTTPSender(cfg, transport.WithHTTPClient(client))
			Expect(err).NotTo(HaveOccurred())

			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()

			err = sender.Send(ctx, []byte(`[]`), transport.ContentTypeJSON)
			Expect(err).To(HaveOccurred())
			Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())
		})
	})
})
