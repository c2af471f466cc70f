package nodeengine

import (
	"fmt"
	"io"
	"os"

	"github.com/bamsammich/forge/internal/store"
	"github.com/zeebo/blake3"
)

// HashFile computes the BLAKE3 digest of the file at path, used as a
// node's content CRC (spec.md §3 "regular-file CRC"). Grounded on the
// internal/engine/hash.go, generalized from a hex string return
// to the fixed-size digest the store persists directly.
func HashFile(path string) ([32]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return [32]byte{}, fmt.Errorf("nodeengine: open %s: %w", path, err)
	}
	defer f.Close()

	h := blake3.New()
	buf := make([]byte, 32*1024)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return [32]byte{}, fmt.Errorf("nodeengine: hash %s: %w", path, err)
	}

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

// HashLink computes the CRC of a symlink's target string.
func HashLink(target string) [32]byte {
	h := blake3.New()
	_, _ = h.Write([]byte(target))
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// CRCFromDisk exposes crcFromDisk to other packages (jobengine's
// end-of-job target refresh) that need to hash a freshly-produced file
// without going through the full Make/Refresh sequence.
func CRCFromDisk(path string) (store.CRC, error) { return crcFromDisk(path) }

// StatSig exposes statSig's signature half to other packages.
func StatSig(path string) (store.Sig, error) {
	sig, _, err := statSig(path)
	return sig, err
}

// crcFromDisk computes the current CRC of path as it stands on disk right
// now (spec.md §4.5 "A source node is built trivially by stat-ing the
// file; its CRC comes from disk content").
func crcFromDisk(path string) (store.CRC, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return store.CRC{Kind: store.CRCNone}, nil
		}
		return store.CRC{}, fmt.Errorf("nodeengine: lstat %s: %w", path, err)
	}

	if fi.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(path)
		if err != nil {
			return store.CRC{}, fmt.Errorf("nodeengine: readlink %s: %w", path, err)
		}
		return store.CRC{Kind: store.CRCLink, Digest: HashLink(target)}, nil
	}

	if fi.Size() == 0 {
		return store.CRC{Kind: store.CRCEmpty}, nil
	}

	digest, err := HashFile(path)
	if err != nil {
		return store.CRC{}, err
	}
	return store.CRC{Kind: store.CRCReg, Digest: digest}, nil
}
