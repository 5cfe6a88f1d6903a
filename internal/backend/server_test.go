package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
	"golang.org/x/crypto/bcrypt"

	"github.com/zombor/invoice-tracker/internal/invoice"
)

var anyPath = regexp.MustCompile(`.*`)

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		service     *Service
		server      *Server
		ghttpServer *ghttp.Server
		token       string
	)

	BeforeEach(func() {
		db = newMockDB()
		clock := &mockTimeSource{now: time.Now().UTC()}
		service = NewServiceWithDeps(db, newMockScanner(), newMockStorage(), &mockIDGenerator{id: "tok-1"}, clock, Config{BcryptCost: bcrypt.MinCost})
		server = NewServerWithMux(service, http.NewServeMux())

		ghttpServer = ghttp.NewServer()
		for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions} {
			ghttpServer.RouteToHandler(method, anyPath, server.ServeHTTP)
		}

		_, err := service.Register(RegisterRequest{Email: "a@example.com", Password: "password123", FullName: "Test User"})
		Expect(err).NotTo(HaveOccurred())
		tok, err := service.Login("a@example.com", "password123")
		Expect(err).NotTo(HaveOccurred())
		token = tok.Value
	})

	AfterEach(func() {
		ghttpServer.Close()
	})

	do := func(method, path, contentType string, body io.Reader, auth string) *http.Response {
		req, err := http.NewRequest(method, ghttpServer.URL()+path, body)
		Expect(err).NotTo(HaveOccurred())
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		if auth != "" {
			req.Header.Set("Authorization", "Bearer "+auth)
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(resp.Body.Close)
		return resp
	}

	decode := func(resp *http.Response, v any) {
		Expect(json.NewDecoder(resp.Body).Decode(v)).To(Succeed())
	}

	detail := func(resp *http.Response) string {
		var body struct {
			Detail string `json:"detail"`
		}
		decode(resp, &body)
		return body.Detail
	}

	Describe("POST /token", func() {
		It("should accept an OAuth2 password form", func() {
			form := url.Values{"username": {"a@example.com"}, "password": {"password123"}}
			resp := do(http.MethodPost, "/token", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()), "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var body map[string]string
			decode(resp, &body)
			Expect(body["access_token"]).To(Equal("tok-1"))
			Expect(body["token_type"]).To(Equal("bearer"))
		})

		It("should accept a JSON body", func() {
			resp := do(http.MethodPost, "/token", "application/json", strings.NewReader(`{"username":"a@example.com","password":"password123"}`), "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("should reject a wrong password with 401", func() {
			resp := do(http.MethodPost, "/token", "application/json", strings.NewReader(`{"username":"a@example.com","password":"nope"}`), "")
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(Equal("Bearer"))
			Expect(detail(resp)).To(Equal("Incorrect email or password"))
		})

		It("should reject a malformed body with 400", func() {
			resp := do(http.MethodPost, "/token", "application/json", strings.NewReader(`{`), "")
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("POST /users", func() {
		It("should create an account", func() {
			resp := do(http.MethodPost, "/users", "application/json", strings.NewReader(`{"email":"b@example.com","password":"password123","full_name":"B"}`), "")
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			var user invoice.User
			decode(resp, &user)
			Expect(user.Email).To(Equal("b@example.com"))
			Expect(user.ID).To(BeNumerically(">", 0))
		})

		It("should also answer on the trailing slash path", func() {
			resp := do(http.MethodPost, "/users/", "application/json", strings.NewReader(`{"email":"c@example.com","password":"password123"}`), "")
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		})

		It("should reject a taken email with 400", func() {
			resp := do(http.MethodPost, "/users", "application/json", strings.NewReader(`{"email":"a@example.com","password":"password123"}`), "")
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(detail(resp)).To(Equal("Email already registered"))
		})

		It("should reject an invalid request with 400", func() {
			resp := do(http.MethodPost, "/users", "application/json", strings.NewReader(`{"email":"x","password":"1"}`), "")
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("authentication", func() {
		DescribeTable("rejects requests without a valid bearer token",
			func(method, path, auth string) {
				resp := do(method, path, "", nil, auth)
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
				Expect(resp.Header.Get("WWW-Authenticate")).To(Equal("Bearer"))
			},
			Entry("profile without a token", http.MethodGet, "/users/me", ""),
			Entry("profile with an unknown token", http.MethodGet, "/users/me", "bogus"),
			Entry("invoices", http.MethodGet, "/invoices", ""),
			Entry("one invoice", http.MethodGet, "/invoices/1", ""),
			Entry("analytics", http.MethodGet, "/analytics", ""),
			Entry("upload", http.MethodPost, "/invoices/upload", ""),
		)
	})

	Describe("/users/me", func() {
		It("should return the current user", func() {
			resp := do(http.MethodGet, "/users/me", "", nil, token)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var user invoice.User
			decode(resp, &user)
			Expect(user.Email).To(Equal("a@example.com"))
		})

		It("should apply a partial update", func() {
			resp := do(http.MethodPut, "/users/me", "application/json", strings.NewReader(`{"full_name":"Renamed"}`), token)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var user invoice.User
			decode(resp, &user)
			Expect(user.FullName).To(Equal("Renamed"))
			Expect(user.Email).To(Equal("a@example.com"))
		})
	})

	Describe("invoices", func() {
		upload := func(filename string, data []byte) *http.Response {
			var buf bytes.Buffer
			w := multipart.NewWriter(&buf)
			part, err := w.CreateFormFile("file", filename)
			Expect(err).NotTo(HaveOccurred())
			_, err = part.Write(data)
			Expect(err).NotTo(HaveOccurred())
			Expect(w.Close()).To(Succeed())
			return do(http.MethodPost, "/invoices/upload", w.FormDataContentType(), &buf, token)
		}

		It("should accept an upload as a pending invoice", func() {
			resp := upload("inv.pdf", pdfBytes)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var inv invoice.Invoice
			decode(resp, &inv)
			Expect(inv.Status).To(Equal(invoice.StatusPending))
			Expect(inv.Filename).To(Equal("inv.pdf"))
		})

		It("should reject an unsupported upload with 400", func() {
			resp := upload("notes.txt", []byte("plain text"))
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should reject a request without a file with 400", func() {
			var buf bytes.Buffer
			w := multipart.NewWriter(&buf)
			Expect(w.WriteField("other", "x")).To(Succeed())
			Expect(w.Close()).To(Succeed())
			resp := do(http.MethodPost, "/invoices/upload", w.FormDataContentType(), &buf, token)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(detail(resp)).To(Equal("No file provided"))
		})

		When("invoices exist", func() {
			BeforeEach(func() {
				for i := 0; i < 3; i++ {
					_, err := service.Upload(context.Background(), 1, "inv.pdf", pdfBytes)
					Expect(err).NotTo(HaveOccurred())
				}
				_, err := service.Upload(context.Background(), 2, "other.pdf", pdfBytes)
				Expect(err).NotTo(HaveOccurred())
				Expect(service.Process(context.Background(), 1)).To(Succeed())
			})

			It("should list the caller's invoices", func() {
				resp := do(http.MethodGet, "/invoices", "", nil, token)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))
				var invoices []invoice.Invoice
				decode(resp, &invoices)
				Expect(invoices).To(HaveLen(3))
			})

			It("should honour skip and limit", func() {
				resp := do(http.MethodGet, "/invoices/?skip=1&limit=1", "", nil, token)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var invoices []invoice.Invoice
				decode(resp, &invoices)
				Expect(invoices).To(HaveLen(1))
				Expect(invoices[0].ID).To(Equal(int64(2)))
			})

			It("should reject a negative limit", func() {
				resp := do(http.MethodGet, "/invoices?limit=-1", "", nil, token)
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})

			It("should return one invoice", func() {
				resp := do(http.MethodGet, "/invoices/1", "", nil, token)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var inv invoice.Invoice
				decode(resp, &inv)
				Expect(inv.Status).To(Equal(invoice.StatusCompleted))
				Expect(inv.InvoiceNumber).To(Equal("INV-1"))
			})

			DescribeTable("answers 404 for invoices the caller cannot see",
				func(path string) {
					resp := do(http.MethodGet, path, "", nil, token)
					Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
					Expect(detail(resp)).To(Equal("Invoice not found"))
				},
				Entry("another owner's invoice", "/invoices/4"),
				Entry("an unknown id", "/invoices/99"),
				Entry("a non-numeric id", "/invoices/abc"),
			)

			It("should return the caller's analytics", func() {
				resp := do(http.MethodGet, "/analytics", "", nil, token)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var a invoice.Analytics
				decode(resp, &a)
				Expect(a.TotalCount).To(Equal(1))
				Expect(a.SuccessRate).To(Equal(1.0))
			})
		})
	})

	Describe("CORS", func() {
		It("should answer preflight requests", func() {
			resp := do(http.MethodOptions, "/invoices", "", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})

		It("should set headers on error responses", func() {
			resp := do(http.MethodGet, "/users/me", "", nil, "")
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})

	It("should report health without a token", func() {
		resp := do(http.MethodGet, "/health", "", nil, "")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})
})

var _ = Describe("writeError", func() {
	DescribeTable("names the missing resource",
		func(err error, want string) {
			rec := httptest.NewRecorder()
			writeError(rec, err)
			Expect(rec.Code).To(Equal(http.StatusNotFound))
			var body map[string]string
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
			Expect(body["detail"]).To(Equal(want))
		},
		Entry("a missing account", fmt.Errorf("%w: user 9", ErrAccountNotFound), "User not found"),
		Entry("a missing invoice", fmt.Errorf("invoice 9: %w", invoice.ErrNotFound), "Invoice not found"),
	)
})
