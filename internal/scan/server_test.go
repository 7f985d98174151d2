package scan

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/receipt-reconciler/internal/category"
	"github.com/zombor/receipt-reconciler/internal/ocr"
	"github.com/zombor/receipt-reconciler/internal/receipt"
)

var _ = Describe("Server", func() {
	var (
		store       *receipt.Store
		index       *receipt.BoltIndex
		service     *Service
		server      *Server
		auth        BasicAuth
		ghttpServer *ghttp.Server
	)

	ocrResult := &ocr.Result{
		Status: "success",
		FullText: strings.Join([]string{
			"WALMART",
			"01/15/26",
			"MILK 5.97",
			"TOTAL 5.97",
		}, "\n"),
	}

	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		server = NewServerWithMux(service, index, auth, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(server.ServeHTTP)
	}

	uploadBody := func(fieldName, filename string, data []byte) (*bytes.Buffer, string) {
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		part, err := writer.CreateFormFile(fieldName, filename)
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(data)
		Expect(err).NotTo(HaveOccurred())
		Expect(writer.Close()).To(Succeed())
		return body, writer.FormDataContentType()
	}

	BeforeEach(func() {
		dir := GinkgoT().TempDir()
		store = receipt.NewStore(filepath.Join(dir, "receipts"), nil)
		Expect(store.EnsureDirectories()).To(Succeed())

		var err error
		index, err = receipt.NewBoltIndex(filepath.Join(dir, "scans.db"))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { Expect(index.Close()).To(Succeed()) })

		service = NewService(&fakeOCR{result: ocrResult}, nil, store, index, category.NewClassifier(), Config{
			KnownMerchants: []string{"WALMART"},
		}, nil)
		auth = BasicAuth{}
		setupServer()
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
	})

	Describe("handleUpload", func() {
		It("should scan an uploaded image and save a draft", func() {
			body, contentType := uploadBody("file", "walmart.png", pngData)
			resp, err := http.Post(ghttpServer.URL()+"/upload", contentType, body)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			var payload map[string]interface{}
			Expect(json.NewDecoder(resp.Body).Decode(&payload)).To(Succeed())
			Expect(payload["action"]).To(Equal("saved_for_review"))
			Expect(payload["merchant"]).To(Equal("WALMART"))
			Expect(payload["total"]).To(Equal("5.97"))

			drafts, err := store.ListScanned()
			Expect(err).NotTo(HaveOccurred())
			Expect(drafts).To(HaveLen(1))
		})

		It("should accept any form field name for the file part", func() {
			body, contentType := uploadBody("image", "walmart.png", pngData)
			resp, err := http.Post(ghttpServer.URL()+"/upload", contentType, body)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		})

		It("should report an already-scanned image without saving twice", func() {
			body, contentType := uploadBody("file", "walmart.png", pngData)
			resp, err := http.Post(ghttpServer.URL()+"/upload", contentType, body)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()

			ghttpServer.AppendHandlers(server.ServeHTTP)
			body, contentType = uploadBody("file", "walmart.png", pngData)
			resp, err = http.Post(ghttpServer.URL()+"/upload", contentType, body)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var payload map[string]interface{}
			Expect(json.NewDecoder(resp.Body).Decode(&payload)).To(Succeed())
			Expect(payload["action"]).To(Equal("already_scanned"))

			drafts, err := store.ListScanned()
			Expect(err).NotTo(HaveOccurred())
			Expect(drafts).To(HaveLen(1))
		})

		It("should accept multipart bodies with LF-only part headers", func() {
			body, contentType := uploadBody("file", "walmart.png", pngData)
			broken := bytes.ReplaceAll(body.Bytes(), []byte("\r\n"), []byte("\n"))

			resp, err := http.Post(ghttpServer.URL()+"/upload", contentType, bytes.NewReader(broken))
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		})

		It("should reject a form without a file part", func() {
			body := &bytes.Buffer{}
			writer := multipart.NewWriter(body)
			Expect(writer.WriteField("note", "no file here")).To(Succeed())
			Expect(writer.Close()).To(Succeed())

			resp, err := http.Post(ghttpServer.URL()+"/upload", writer.FormDataContentType(), body)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("handleListScans", func() {
		It("should return recorded scans", func() {
			body, contentType := uploadBody("file", "walmart.png", pngData)
			resp, err := http.Post(ghttpServer.URL()+"/upload", contentType, body)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()

			ghttpServer.AppendHandlers(server.ServeHTTP)
			resp, err = http.Get(ghttpServer.URL() + "/api/scans")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var records []*receipt.ScanRecord
			Expect(json.NewDecoder(resp.Body).Decode(&records)).To(Succeed())
			Expect(records).To(HaveLen(1))
			Expect(records[0].Merchant).To(Equal("WALMART"))
		})
	})

	Describe("handleDeleteScan", func() {
		It("should forget a scan so the image can be re-scanned", func() {
			body, contentType := uploadBody("file", "walmart.png", pngData)
			resp, err := http.Post(ghttpServer.URL()+"/upload", contentType, body)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()

			records, err := index.ListScans()
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(1))

			ghttpServer.AppendHandlers(server.ServeHTTP)
			req, err := http.NewRequest("DELETE", ghttpServer.URL()+"/api/scans/"+records[0].ImageSHA256, nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err = http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))

			records, err = index.ListScans()
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(BeEmpty())
		})
	})

	Describe("authentication", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "scanner", Password: "secret"}
			setupServer()
		})

		It("should reject requests without credentials", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/scans")
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("should accept requests with valid credentials", func() {
			req, err := http.NewRequest("GET", ghttpServer.URL()+"/api/scans", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("scanner", "secret")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("should leave the health endpoint open", func() {
			resp, err := http.Get(ghttpServer.URL() + "/health")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring(`"status":"ok"`))
		})
	})
})

var _ = Describe("normalizeMultipartBody", func() {
	It("should rewrite LF-only part headers to CRLF", func() {
		boundary := "testboundary"
		body := strings.Join([]string{
			"--" + boundary,
			`Content-Disposition: form-data; name="file"; filename="r.png"`,
			"Content-Type: image/png",
			"",
			"BINARY\nDATA",
			"--" + boundary + "--",
			"",
		}, "\n")

		fixed := normalizeMultipartBody([]byte(body), boundary)
		Expect(string(fixed)).To(ContainSubstring("Content-Disposition: form-data; name=\"file\"; filename=\"r.png\"\r\nContent-Type: image/png\r\n\r\n"))
		// part body bytes stay untouched
		Expect(string(fixed)).To(ContainSubstring("BINARY\nDATA"))
	})

	It("should leave CRLF bodies unchanged", func() {
		boundary := "testboundary"
		body := "--" + boundary + "\r\n" +
			"Content-Type: image/png\r\n\r\n" +
			"DATA\r\n" +
			"--" + boundary + "--\r\n"
		Expect(normalizeMultipartBody([]byte(body), boundary)).To(Equal([]byte(body)))
	})
})
