package raytracing

import (
	"fmt"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/hal"
)

func (s *Scene) CreateMaterial(m Material) MaterialHandle {
	s.materialsMu.Lock()
	defer s.materialsMu.Unlock()
	return s.materials.Insert(m)
}

func (s *Scene) SetMaterial(h MaterialHandle, m Material) error {
	s.materialsMu.Lock()
	defer s.materialsMu.Unlock()

	slot, err := s.materials.Get(h)
	if err != nil {
		return err
	}
	*slot = m
	return nil
}

func (s *Scene) GetMaterial(h MaterialHandle) (Material, error) {
	s.materialsMu.Lock()
	defer s.materialsMu.Unlock()

	m, err := s.materials.Get(h)
	if err != nil {
		return Material{}, err
	}
	return *m, nil
}

// DestroyMaterial frees the material. Geometry still referring to it falls
// back to the default material on the next frame.
func (s *Scene) DestroyMaterial(h MaterialHandle) (bool, error) {
	s.materialsMu.Lock()
	defer s.materialsMu.Unlock()

	if _, err := s.materials.Free(h); err != nil {
		return false, err
	}
	return true, nil
}

// encodeMaterials lays the material table out by slot index. Slot 0 and free
// slots hold the default material. Callers hold materialsMu.
func (s *Scene) encodeMaterials() []byte {
	out := make([]byte, s.materials.SlotCount()*MaterialSize)
	def := DefaultMaterial()
	for i := 0; i < s.materials.SlotCount(); i++ {
		def.encode(out[i*MaterialSize:], 0, 0)
	}

	s.texturesMu.Lock()
	defer s.texturesMu.Unlock()
	textureIndex := func(h TextureHandle) uint32 {
		if s.textures.Valid(h) {
			return h.Index()
		}
		return 0
	}
	s.materials.Each(func(h MaterialHandle, m *Material) bool {
		m.encode(out[h.Index()*MaterialSize:], textureIndex(m.AlbedoTexture), textureIndex(m.NormalTexture))
		return true
	})
	return out
}

// RegisterTexture adds an externally created image to the texture table.
func (s *Scene) RegisterTexture(name string, image hal.Image) (TextureHandle, error) {
	if image == nil {
		return TextureHandle{}, fmt.Errorf("texture %q has no image", name)
	}
	if name == "" {
		name = core.NewLabel("texture")
	}
	s.texturesMu.Lock()
	defer s.texturesMu.Unlock()
	return s.textures.Insert(Texture{Name: name, Image: image}), nil
}

// DestroyTexture frees the slot and retires the image to the current frame.
func (s *Scene) DestroyTexture(h TextureHandle) (bool, error) {
	s.texturesMu.Lock()
	tex, err := s.textures.Free(h)
	s.texturesMu.Unlock()
	if err != nil {
		return false, err
	}
	s.retire(tex.Image)
	return true, nil
}

// Textures returns the registered images indexed by texture slot. Entry 0
// and free slots are nil.
func (s *Scene) Textures() []hal.Image {
	s.texturesMu.Lock()
	defer s.texturesMu.Unlock()

	out := make([]hal.Image, s.textures.SlotCount())
	s.textures.Each(func(h TextureHandle, t *Texture) bool {
		out[h.Index()] = t.Image
		return true
	})
	return out
}
