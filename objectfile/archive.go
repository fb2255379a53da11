package objectfile

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Member is one entry of a static archive: a name plus its raw object bytes. No
// ar-format reader appears anywhere in the retrieval pack (DESIGN.md records this), so
// this is a from-scratch reader for the common System-V archive layout used by rlib-
// equivalent outputs: an 8-byte global header followed by fixed 60-byte member headers.
type Member struct {
	Name string
	Data []byte
}

const (
	arMagic       = "!<arch>\n"
	arHeaderSize  = 60
	arEntryMagic0 = '\x60'
	arEntryMagic1 = '\n'
)

// OpenArchive reads path as a static archive and returns one ObjectView per member,
// with IDs of the form "archive:member" (spec.md §4.A) so symbols can be traced back to
// the archive that contributed them.
func OpenArchive(path string) ([]*ObjectView, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &MalformedObject{Path: path, Err: err}
	}
	defer f.Close()

	members, err := readArchiveMembers(f)
	if err != nil {
		return nil, &MalformedObject{Path: path, Err: err}
	}

	views := make([]*ObjectView, 0, len(members))
	for _, m := range members {
		id := fmt.Sprintf("%s:%s", path, m.Name)
		view, err := Parse(id, m.Data)
		if err != nil {
			// A non-object member (e.g. the symbol-table or string-table pseudo
			// members some archive variants emit) is skipped rather than treated
			// as malformed: only genuine object members are surfaced.
			continue
		}
		views = append(views, view)
	}
	return views, nil
}

func readArchiveMembers(r io.Reader) ([]Member, error) {
	br := bufio.NewReader(r)
	magic := make([]byte, len(arMagic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, fmt.Errorf("reading archive magic: %w", err)
	}
	if string(magic) != arMagic {
		return nil, fmt.Errorf("not an archive (bad magic %q)", magic)
	}

	var longNames string
	var members []Member
	header := make([]byte, arHeaderSize)
	for {
		_, err := io.ReadFull(br, header)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading member header: %w", err)
		}
		if header[58] != arEntryMagic0 || header[59] != arEntryMagic1 {
			return nil, fmt.Errorf("bad member header terminator")
		}
		name := strings.TrimRight(string(header[0:16]), " ")
		sizeField := strings.TrimSpace(string(header[48:58]))
		size, err := strconv.ParseInt(sizeField, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad member size %q: %w", sizeField, err)
		}

		data := make([]byte, size)
		if _, err := io.ReadFull(br, data); err != nil {
			return nil, fmt.Errorf("reading member %q data: %w", name, err)
		}
		if size%2 == 1 {
			if _, err := br.Discard(1); err != nil && err != io.EOF {
				return nil, fmt.Errorf("discarding padding byte: %w", err)
			}
		}

		switch {
		case name == "/":
			// Symbol table pseudo-member; not needed since every member is parsed
			// as its own ELF object.
			continue
		case name == "//":
			// GNU extended-name table: subsequent "/<offset>" names index into it.
			longNames = string(data)
			continue
		case strings.HasPrefix(name, "/") && len(name) > 1:
			if off, err := strconv.Atoi(strings.TrimSuffix(name[1:], "/")); err == nil {
				name = extractLongName(longNames, off)
			}
		default:
			name = strings.TrimSuffix(name, "/")
		}

		members = append(members, Member{Name: name, Data: data})
	}
	return members, nil
}

func extractLongName(table string, offset int) string {
	if offset < 0 || offset >= len(table) {
		return ""
	}
	end := strings.IndexAny(table[offset:], "\n")
	if end < 0 {
		return strings.TrimSuffix(table[offset:], "/")
	}
	return strings.TrimSuffix(table[offset:offset+end], "/")
}
