package scanning

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func encoded(encode func(*bytes.Buffer, image.Image) error) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	Expect(encode(&buf, img)).To(Succeed())
	return buf.Bytes()
}

func encodedPNG() []byte {
	return encoded(func(b *bytes.Buffer, img image.Image) error { return png.Encode(b, img) })
}

var _ = Describe("prepareImageData", func() {
	var (
		pngData  []byte
		jpegData []byte
	)

	BeforeEach(func() {
		pngData = encodedPNG()
		jpegData = encoded(func(b *bytes.Buffer, img image.Image) error { return jpeg.Encode(b, img, nil) })
	})

	It("should pass PNG through untouched", func() {
		out, err := prepareImageData(pngData, "image/png")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal(pngData))
	})

	It("should convert JPEG to PNG", func() {
		out, err := prepareImageData(jpegData, "image/jpeg")
		Expect(err).NotTo(HaveOccurred())
		_, format, err := image.Decode(bytes.NewReader(out))
		Expect(err).NotTo(HaveOccurred())
		Expect(format).To(Equal("png"))
	})

	It("should detect an undeclared type", func() {
		out, err := prepareImageData(pngData, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal(pngData))
	})

	It("should ignore content type parameters", func() {
		out, err := prepareImageData(pngData, "IMAGE/PNG; q=1")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal(pngData))
	})

	It("returns the error for undecodable data", func() {
		_, err := prepareImageData([]byte("not an image"), "image/jpeg")
		Expect(err).To(HaveOccurred())
	})
})

var _ = DescribeTable("isHEICFormat",
	func(data []byte, expected bool) {
		Expect(isHEICFormat(data)).To(Equal(expected))
	},
	Entry("heic brand", []byte("\x00\x00\x00\x18ftypheic\x00\x00"), true),
	Entry("mif1 brand", []byte("\x00\x00\x00\x18ftypmif1\x00\x00"), true),
	Entry("mp4 brand", []byte("\x00\x00\x00\x18ftypisom\x00\x00"), false),
	Entry("too short", []byte("ftyp"), false),
)
