package ziparchive_test

import (
	"bytes"
	"fmt"
	"hash/crc32"
	"io"
	"log"
	"os"

	"github.com/martin-sucha/ziparchive"
)

func Example() {
	// Write an archive front to back.
	var buf bytes.Buffer
	w := ziparchive.NewStreamWriter(&buf)
	files := []struct {
		Name, Body string
	}{
		{"readme.txt", "This archive contains some text files."},
		{"gopher.txt", "Gopher names:\nGeorge\nGeoffrey\nGonzo"},
		{"todo.txt", "Get animal handling licence.\nWrite more examples."},
	}
	for _, file := range files {
		if err := w.Create(file.Name); err != nil {
			log.Fatal(err)
		}
		if _, err := io.WriteString(w, file.Body); err != nil {
			log.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		log.Fatal(err)
	}

	// Open one entry by name.
	z, err := ziparchive.NewReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		log.Fatal(err)
	}
	defer z.Close()
	rc, err := z.Open("gopher.txt")
	if err != nil {
		log.Fatal(err)
	}
	if _, err := io.Copy(os.Stdout, rc); err != nil {
		log.Fatal(err)
	}
	rc.Close()
	fmt.Println()
	// Output:
	// Gopher names:
	// George
	// Geoffrey
	// Gonzo
}

func ExampleStreamReader() {
	var buf bytes.Buffer
	w := ziparchive.NewStreamWriter(&buf)
	for _, name := range []string{"a.txt", "b.txt"} {
		if err := w.Create(name); err != nil {
			log.Fatal(err)
		}
		fmt.Fprintf(w, "contents of %s", name)
	}
	if err := w.Close(); err != nil {
		log.Fatal(err)
	}

	r := ziparchive.NewStreamReader(&buf)
	defer r.Close()
	for {
		f, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatal(err)
		}
		body, err := io.ReadAll(r)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("%s: %s\n", f.Name, body)
	}
	// Output:
	// a.txt: contents of a.txt
	// b.txt: contents of b.txt
}

func ExampleNewArchive() {
	content := []byte("stored without copying")
	h := &ziparchive.FileHeader{
		Name:             "hello.txt",
		Method:           ziparchive.Store,
		CRC32:            crc32.ChecksumIEEE(content),
		CompressedSize:   uint32(len(content)),
		UncompressedSize: uint32(len(content)),
		Content:          bytes.NewReader(content),
	}
	ar, err := ziparchive.NewArchive(&ziparchive.Template{Entries: []*ziparchive.FileHeader{h}})
	if err != nil {
		log.Fatal(err)
	}
	z, err := ziparchive.NewReader(ar)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(len(z.File), z.File[0].Name)
	// Output: 1 hello.txt
}
